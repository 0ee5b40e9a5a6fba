package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FlavioCFOliveira/gridneuron/internal/activations"
	"github.com/FlavioCFOliveira/gridneuron/internal/layer"
)

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-grid", "3x1", "-layers", "5, 2", "-init", "he_normal", "-activation", "relu"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.gridHeight != 3 || cfg.gridWidth != 1 {
		t.Errorf("grid = %dx%d, want 3x1", cfg.gridHeight, cfg.gridWidth)
	}
	if len(cfg.layers) != 2 || cfg.layers[0] != 5 || cfg.layers[1] != 2 {
		t.Errorf("layers = %v, want [5 2]", cfg.layers)
	}
	if cfg.init != layer.InitHeNormal || cfg.activation != activations.TypeReLU {
		t.Errorf("init, activation = %v, %v; want he_normal, relu", cfg.init, cfg.activation)
	}

	for _, args := range [][]string{
		{"-grid", "2"},
		{"-grid", "ax2"},
		{"-layers", "4,0"},
		{"-layers", ""},
		{"-init", "orthogonal"},
		{"-activation", "softmax"},
		{"-mb", "0"},
	} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%q) succeeded, want error", args)
		}
	}
}

// TestRunLearns trains a small network with a partial last batch on a 2x2
// grid and checks that the cost goes down.
func TestRunLearns(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parseFlags([]string{
		"-grid", "2x2",
		"-layers", "6,2",
		"-samples", "50",
		"-mb", "16",
		"-epochs", "40",
		"-lr", "0.02",
		"-gradcheck",
		"-csv", filepath.Join(dir, "progress.csv"),
		"-checkpoint", filepath.Join(dir, "ckpt"),
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	res, err := run(context.Background(), cfg, &out)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	if len(res.costs) != 40 {
		t.Fatalf("got %d epochs, want 40", len(res.costs))
	}
	if first, last := res.costs[0], res.costs[len(res.costs)-1]; last >= first {
		t.Errorf("cost went from %v to %v, want a decrease", first, last)
	}
	if res.bytes == 0 {
		t.Error("checkpoint wrote no bytes")
	}
	for _, want := range []string{"Layer 2 gradient check", "Layer 1 gradient check", "leaks 0", "Epoch 40:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "progress.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 41 {
		t.Errorf("CSV has %d lines, want header plus 40", lines)
	}
}

func TestRunCanceled(t *testing.T) {
	cfg, err := parseFlags([]string{"-grid", "1x2", "-epochs", "5"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if _, err := run(ctx, cfg, &out); err == nil {
		t.Error("run with a canceled context succeeded")
	}
}
