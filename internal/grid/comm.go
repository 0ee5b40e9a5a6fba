package grid

import (
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Comm is one member's handle on a group of processes.
//
// All collectives are blocking and must be entered by every member of the
// group, in the same order. A member that skips a call deadlocks the group
// until the run is aborted.
type Comm struct {
	h    *hub
	rank int
}

// Size returns the number of members in the group.
func (c *Comm) Size() int { return c.h.size }

// Rank returns this member's index inside the group.
func (c *Comm) Rank() int { return c.rank }

// Barrier blocks until every member has entered it.
func (c *Comm) Barrier() {
	c.h.exchange(c.rank, nil)
}

// AllReduceSum returns the sum of x over all members.
func (c *Comm) AllReduceSum(x float64) float64 {
	if c.h.size == 1 {
		return x
	}
	parts := c.h.exchange(c.rank, []float64{x})
	var sum float64
	for _, p := range parts {
		sum += p[0]
	}
	return sum
}

// AllReduceSumSlice replaces xs with the elementwise sum of xs over all
// members. Every member must pass a slice of the same length.
func (c *Comm) AllReduceSumSlice(xs []float64) {
	if c.h.size == 1 {
		return
	}
	parts := c.h.exchange(c.rank, xs)
	for i := range xs {
		xs[i] = 0
	}
	for _, p := range parts {
		floats.Add(xs, p)
	}
}

// AllGather returns every member's contribution indexed by member rank.
// The returned slices are shared between members and must not be modified.
func (c *Comm) AllGather(local []float64) [][]float64 {
	if c.h.size == 1 {
		return [][]float64{append([]float64(nil), local...)}
	}
	return c.h.exchange(c.rank, local)
}

// Broadcast returns root's data on every member. Non-root members may pass nil.
func (c *Comm) Broadcast(root int, data []float64) []float64 {
	if c.h.size == 1 {
		return data
	}
	if c.rank != root {
		data = nil
	}
	return c.h.exchange(c.rank, data)[root]
}

// hub is the rendezvous point shared by the members of one communicator.
// Each round every member deposits a slot; the last arrival publishes the
// round's slots and opens a fresh set for the next round.
type hub struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	slots   [][]float64
	result  [][]float64
	aborted bool
}

func newHub(size int) *hub {
	h := &hub{size: size, slots: make([][]float64, size)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *hub) exchange(rank int, data []float64) [][]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aborted {
		panic(ErrAborted)
	}

	h.slots[rank] = append([]float64(nil), data...)
	h.arrived++
	if h.arrived == h.size {
		h.result = h.slots
		h.slots = make([][]float64, h.size)
		h.arrived = 0
		h.gen++
		h.cond.Broadcast()
		return h.result
	}

	gen := h.gen
	for gen == h.gen && !h.aborted {
		h.cond.Wait()
	}
	if gen == h.gen {
		panic(ErrAborted)
	}
	// The next round cannot complete before this member deposits into it,
	// so result still holds this round's slots.
	return h.result
}

func (h *hub) abort() {
	h.mu.Lock()
	h.aborted = true
	h.mu.Unlock()
	h.cond.Broadcast()
}
