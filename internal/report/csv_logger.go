package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// CSVLogger logs training progress to a CSV file with the columns
// epoch, cost, fp_seconds and bp_seconds.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
	err    error
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

func (c *CSVLogger) OnTrainBegin() {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		c.fail(fmt.Errorf("failed to open file %s: %w", c.Filename, err))
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write([]string{"epoch", "cost", "fp_seconds", "bp_seconds"})
		c.writer.Flush()
	}
}

func (c *CSVLogger) OnEpochEnd(e Epoch) {
	if c.writer == nil {
		return
	}
	record := []string{
		strconv.Itoa(e.Index),
		strconv.FormatFloat(e.Cost, 'g', -1, 64),
		strconv.FormatFloat(e.FPTime.Seconds(), 'f', 6, 64),
		strconv.FormatFloat(e.BPTime.Seconds(), 'f', 6, 64),
	}
	if err := c.writer.Write(record); err != nil {
		c.fail(fmt.Errorf("failed to write record: %w", err))
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.fail(fmt.Errorf("failed to flush record: %w", err))
	}
}

func (c *CSVLogger) OnTrainEnd() {
	if c.file != nil {
		c.writer.Flush()
		if err := c.file.Close(); err != nil {
			c.fail(err)
		}
		c.file = nil
		c.writer = nil
	}
}

// Err returns the first error met while logging.
func (c *CSVLogger) Err() error { return c.err }

func (c *CSVLogger) fail(err error) {
	fmt.Printf("CSVLogger: %v\n", err)
	if c.err == nil {
		c.err = err
	}
}
