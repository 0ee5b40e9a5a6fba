package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewInvalidShape(t *testing.T) {
	tests := []struct {
		h, w int
	}{
		{0, 1},
		{1, 0},
		{-1, 2},
	}
	for _, tt := range tests {
		if _, err := New(tt.h, tt.w); err == nil {
			t.Errorf("New(%d, %d) error = nil, want error", tt.h, tt.w)
		}
	}
}

func TestRankLayoutColumnMajor(t *testing.T) {
	g, err := New(2, 3)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := map[int][2]int{}
	err = g.Run(context.Background(), func(ctx context.Context, p *Process) error {
		mu.Lock()
		seen[p.Rank()] = [2]int{p.Row(), p.Col()}
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 6 {
		t.Fatalf("got %d ranks, want 6", len(seen))
	}
	for rank, rc := range seen {
		if rank != rc[0]+rc[1]*2 {
			t.Errorf("rank %d at (%d,%d), want rank = row + col*height", rank, rc[0], rc[1])
		}
	}
}

func TestAllReduceSum(t *testing.T) {
	g, _ := New(2, 2)
	err := g.Run(context.Background(), func(ctx context.Context, p *Process) error {
		// Repeated rounds exercise slot reuse between generations.
		for round := 0; round < 50; round++ {
			got := p.World().AllReduceSum(float64(p.Rank() + round))
			want := float64(0+1+2+3) + 4*float64(round)
			if got != want {
				return errors.New("world sum mismatch")
			}
		}
		if got := p.ColComm().AllReduceSum(1); got != 2 {
			return errors.New("column sum mismatch")
		}
		if got := p.RowComm().AllReduceSum(float64(p.Col())); got != 1 {
			return errors.New("row sum mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestAllReduceSumSlice(t *testing.T) {
	g, _ := New(3, 1)
	err := g.Run(context.Background(), func(ctx context.Context, p *Process) error {
		xs := []float64{1, float64(p.Rank())}
		p.World().AllReduceSumSlice(xs)
		if xs[0] != 3 || xs[1] != 3 {
			return errors.New("slice sum mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestAllGatherAndBroadcast(t *testing.T) {
	g, _ := New(1, 4)
	err := g.Run(context.Background(), func(ctx context.Context, p *Process) error {
		parts := p.World().AllGather([]float64{float64(p.Rank() * 10)})
		for r, part := range parts {
			if part[0] != float64(r*10) {
				return errors.New("gather order mismatch")
			}
		}
		var data []float64
		if p.Rank() == 2 {
			data = []float64{7, 8}
		}
		got := p.World().Broadcast(2, data)
		if len(got) != 2 || got[0] != 7 || got[1] != 8 {
			return errors.New("broadcast mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunAbortsBlockedCollectives(t *testing.T) {
	g, _ := New(2, 1)
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background(), func(ctx context.Context, p *Process) error {
			if p.Rank() == 0 {
				return boom
			}
			p.World().Barrier()
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Run() error = %v, want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after a rank failed")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	g, _ := New(1, 1)
	err := g.Run(context.Background(), func(ctx context.Context, p *Process) error {
		panic("bad wiring")
	})
	if err == nil {
		t.Fatal("Run() error = nil, want recovered panic")
	}
}

func TestLocal(t *testing.T) {
	p := Local()
	if p.Grid().Size() != 1 {
		t.Fatalf("Local grid size = %d, want 1", p.Grid().Size())
	}
	if got := p.World().AllReduceSum(2.5); got != 2.5 {
		t.Errorf("AllReduceSum = %v, want 2.5", got)
	}
	p.World().Barrier()
}
