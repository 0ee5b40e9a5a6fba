package dist

import (
	"encoding/binary"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Block file constants.
const (
	BlockMagic   = 0x4b4c4247 // "GBLK" in little-endian
	BlockVersion = 1
)

// blockHeader precedes the row-major float64 payload of a stored block.
type blockHeader struct {
	Magic   uint32
	Version uint32
	Height  int64 // global rows
	Width   int64 // global columns
	Rows    int64 // rows in the payload
	Cols    int64 // columns in the payload
}

const headerSize = 4 + 4 + 4*8

// WriteLocal writes this process's local block of a to w and returns the
// number of bytes written.
func WriteLocal(w io.Writer, a *Matrix) (int64, error) {
	return writeBlock(w, a.height, a.width, a.LocalHeight(), a.LocalWidth(), a.local)
}

// ReadLocal reads a block written by WriteLocal into a. The stored global
// and local shapes must match a.
func ReadLocal(r io.Reader, a *Matrix) (int64, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	if int(hdr.Height) != a.height || int(hdr.Width) != a.width ||
		int(hdr.Rows) != a.LocalHeight() || int(hdr.Cols) != a.LocalWidth() {
		return headerSize, fmt.Errorf("block shape %dx%d (local %dx%d) does not match %v: %w",
			hdr.Height, hdr.Width, hdr.Rows, hdr.Cols, a, mat.ErrShape)
	}
	n, err := readPayload(r, a.local, int(hdr.Rows), int(hdr.Cols))
	return headerSize + n, err
}

// WriteGlobal writes the whole matrix g to w and returns the number of bytes
// written.
func WriteGlobal(w io.Writer, g *mat.Dense) (int64, error) {
	r, c := g.Dims()
	return writeBlock(w, r, c, r, c, g)
}

// ReadGlobal reads a matrix written by WriteGlobal.
func ReadGlobal(r io.Reader) (*mat.Dense, int64, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, 0, err
	}
	if hdr.Rows != hdr.Height || hdr.Cols != hdr.Width {
		return nil, headerSize, fmt.Errorf("block holds a %dx%d slice of %dx%d, not a whole matrix",
			hdr.Rows, hdr.Cols, hdr.Height, hdr.Width)
	}
	if hdr.Rows == 0 || hdr.Cols == 0 {
		return &mat.Dense{}, headerSize, nil
	}
	g := mat.NewDense(int(hdr.Rows), int(hdr.Cols), nil)
	n, err := readPayload(r, g, int(hdr.Rows), int(hdr.Cols))
	return g, headerSize + n, err
}

func writeBlock(w io.Writer, height, width, rows, cols int, m *mat.Dense) (int64, error) {
	hdr := blockHeader{
		Magic:   BlockMagic,
		Version: BlockVersion,
		Height:  int64(height),
		Width:   int64(width),
		Rows:    int64(rows),
		Cols:    int64(cols),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return 0, fmt.Errorf("failed to write block header: %w", err)
	}
	if rows == 0 || cols == 0 {
		return headerSize, nil
	}
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, m)
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return headerSize + int64(i*cols*8), fmt.Errorf("failed to write block row %d: %w", i, err)
		}
	}
	return headerSize + int64(rows*cols*8), nil
}

func readHeader(r io.Reader) (blockHeader, error) {
	var hdr blockHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("failed to read block header: %w", err)
	}
	if hdr.Magic != BlockMagic {
		return hdr, fmt.Errorf("invalid block magic: 0x%08x", hdr.Magic)
	}
	if hdr.Version != BlockVersion {
		return hdr, fmt.Errorf("unsupported block version: %d", hdr.Version)
	}
	return hdr, nil
}

func readPayload(r io.Reader, m *mat.Dense, rows, cols int) (int64, error) {
	if rows == 0 || cols == 0 {
		return 0, nil
	}
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return int64(i * cols * 8), fmt.Errorf("failed to read block row %d: %w", i, err)
		}
		m.SetRow(i, row)
	}
	return int64(rows * cols * 8), nil
}
