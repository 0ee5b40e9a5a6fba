// Package grid provides the 2-D process grid that distributed matrices are
// partitioned over.
//
// Every cell of the grid is a cooperating process. Inside one Go program a
// process is a goroutine started by Run; processes only talk to each other
// through the collectives on Comm.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is the panic value raised inside a collective when the run it
// belongs to has been torn down by a failing rank or a cancelled context.
var ErrAborted = errors.New("grid: collective aborted")

// Grid is a height x width arrangement of processes.
// Ranks are assigned column-major: rank = row + col*height.
type Grid struct {
	height int
	width  int
}

// New creates a grid with the given number of process rows and columns.
func New(height, width int) (*Grid, error) {
	if height < 1 || width < 1 {
		return nil, fmt.Errorf("grid: invalid shape %dx%d", height, width)
	}
	return &Grid{height: height, width: width}, nil
}

// Height returns the number of process rows.
func (g *Grid) Height() int { return g.height }

// Width returns the number of process columns.
func (g *Grid) Width() int { return g.width }

// Size returns the number of processes in the grid.
func (g *Grid) Size() int { return g.height * g.width }

// String returns the grid shape as "HxW".
func (g *Grid) String() string { return fmt.Sprintf("%dx%d", g.height, g.width) }

// Run starts one goroutine per grid cell and calls fn on each of them with
// that cell's Process. It returns the first error any rank produced.
//
// A rank that returns an error or panics aborts the run: collectives that
// other ranks are blocked in panic with ErrAborted, which is recovered here.
// Cancelling ctx has the same effect.
func (g *Grid) Run(ctx context.Context, fn func(ctx context.Context, p *Process) error) error {
	s := newSession(g)
	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.Size(); rank++ {
		p := s.process(rank)
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if e, ok := r.(error); ok && errors.Is(e, ErrAborted) {
						err = fmt.Errorf("grid: rank %d: %w", p.rank, e)
					} else {
						err = fmt.Errorf("grid: rank %d: %v", p.rank, r)
					}
				}
				if err != nil {
					s.fail(err)
				}
			}()
			return fn(egCtx, p)
		})
	}
	err := eg.Wait()
	if cause := s.firstCause(); cause != nil {
		return cause
	}
	return err
}

// Local returns the single process of a fresh 1x1 grid. Collectives on it
// complete immediately, so it can be used without Run.
func Local() *Process {
	g := &Grid{height: 1, width: 1}
	return newSession(g).process(0)
}

// session holds the communicators of one Run.
type session struct {
	grid  *Grid
	world *hub
	cols  []*hub // indexed by grid column
	rows  []*hub // indexed by grid row

	mu    sync.Mutex
	cause error
}

func newSession(g *Grid) *session {
	s := &session{
		grid:  g,
		world: newHub(g.Size()),
		cols:  make([]*hub, g.width),
		rows:  make([]*hub, g.height),
	}
	for c := range s.cols {
		s.cols[c] = newHub(g.height)
	}
	for r := range s.rows {
		s.rows[r] = newHub(g.width)
	}
	return s
}

func (s *session) process(rank int) *Process {
	return &Process{
		session: s,
		rank:    rank,
		row:     rank % s.grid.height,
		col:     rank / s.grid.height,
	}
}

// fail records the first error that was not itself caused by an abort and
// tears the session down.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.cause == nil && !errors.Is(err, ErrAborted) {
		s.cause = err
	}
	s.mu.Unlock()
	s.abort()
}

func (s *session) firstCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *session) abort() {
	s.world.abort()
	for _, h := range s.cols {
		h.abort()
	}
	for _, h := range s.rows {
		h.abort()
	}
}

// Process is one cell of a running grid.
type Process struct {
	session *session
	rank    int
	row     int
	col     int
}

// Grid returns the grid this process belongs to.
func (p *Process) Grid() *Grid { return p.session.grid }

// Rank returns the process rank in the world communicator.
func (p *Process) Rank() int { return p.rank }

// Row returns the grid row of the process.
func (p *Process) Row() int { return p.row }

// Col returns the grid column of the process.
func (p *Process) Col() int { return p.col }

// World returns the communicator spanning every process of the grid.
func (p *Process) World() *Comm { return &Comm{h: p.session.world, rank: p.rank} }

// ColComm returns the communicator of the processes sharing this process's
// grid column. Its size is the grid height and its rank is Row.
func (p *Process) ColComm() *Comm { return &Comm{h: p.session.cols[p.col], rank: p.row} }

// RowComm returns the communicator of the processes sharing this process's
// grid row. Its size is the grid width and its rank is Col.
func (p *Process) RowComm() *Comm { return &Comm{h: p.session.rows[p.row], rank: p.col} }
