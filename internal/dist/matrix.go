// Package dist provides a dense matrix partitioned element-cyclically over a
// process grid.
//
// Global entry (i, j) lives on the process at grid cell
// ((i+colAlign) mod H, (j+rowAlign) mod W). Each process stores its entries
// as a gonum *mat.Dense local block. Views alias their parent's local block.
package dist

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

// ErrView is the panic value used when a view is resized.
var ErrView = errors.New("dist: cannot resize a view")

// Range is a half-open index interval [Beg, End). A negative End extends the
// range to the end of the dimension.
type Range struct {
	Beg, End int
}

// All selects a whole dimension.
var All = Range{0, -1}

// IR returns the index range [beg, end).
func IR(beg, end int) Range { return Range{beg, end} }

func (r Range) bounds(n int) (int, int) {
	end := r.End
	if end < 0 {
		end = n
	}
	if r.Beg < 0 || r.Beg > end || end > n {
		panic(mat.ErrIndexOutOfRange)
	}
	return r.Beg, end
}

// Matrix is one process's handle on a distributed matrix.
type Matrix struct {
	p        *grid.Process
	height   int
	width    int
	colAlign int
	rowAlign int
	local    *mat.Dense // nil when this process owns no entries
	viewing  bool
}

// NewMatrix returns an empty matrix distributed over p's grid.
func NewMatrix(p *grid.Process) *Matrix {
	return &Matrix{p: p}
}

// Zeros resizes m to height x width and zeroes it.
func Zeros(m *Matrix, height, width int) {
	if m.viewing {
		panic(ErrView)
	}
	if height < 0 || width < 0 {
		panic(mat.ErrShape)
	}
	m.height, m.width = height, width
	m.colAlign, m.rowAlign = 0, 0
	lh, lw := m.LocalHeight(), m.LocalWidth()
	if lh == 0 || lw == 0 {
		m.local = nil
		return
	}
	m.local = mat.NewDense(lh, lw, nil)
}

// View returns a view of the rows and cols ranges of src.
func View(src *Matrix, rows, cols Range) *Matrix {
	v := &Matrix{}
	v.ViewOf(src, rows, cols)
	return v
}

// ViewOf rebinds m to the rows and cols ranges of src. Whatever m held
// before is released; the view shares src's storage.
func (m *Matrix) ViewOf(src *Matrix, rows, cols Range) {
	r0, r1 := rows.bounds(src.height)
	c0, c1 := cols.bounds(src.width)
	h, w := src.gridHeight(), src.gridWidth()

	v := Matrix{
		p:        src.p,
		height:   r1 - r0,
		width:    c1 - c0,
		colAlign: (src.colAlign + r0) % h,
		rowAlign: (src.rowAlign + c0) % w,
		viewing:  true,
	}
	lh, lw := v.LocalHeight(), v.LocalWidth()
	if lh > 0 && lw > 0 {
		pr := (r0 + v.colShift() - src.colShift()) / h
		pc := (c0 + v.rowShift() - src.rowShift()) / w
		v.local = src.local.Slice(pr, pr+lh, pc, pc+lw).(*mat.Dense)
	}
	*m = v
}

// Process returns the process this handle belongs to.
func (m *Matrix) Process() *grid.Process { return m.p }

// Height returns the global number of rows.
func (m *Matrix) Height() int { return m.height }

// Width returns the global number of columns.
func (m *Matrix) Width() int { return m.width }

// Viewing reports whether m aliases another matrix.
func (m *Matrix) Viewing() bool { return m.viewing }

// Local returns the local block, or nil if this process owns no entries.
func (m *Matrix) Local() *mat.Dense { return m.local }

// LocalHeight returns the number of rows stored on this process.
func (m *Matrix) LocalHeight() int { return length(m.height, m.colShift(), m.gridHeight()) }

// LocalWidth returns the number of columns stored on this process.
func (m *Matrix) LocalWidth() int { return length(m.width, m.rowShift(), m.gridWidth()) }

// IsLocal reports whether global entry (i, j) is stored on this process.
func (m *Matrix) IsLocal(i, j int) bool {
	return (i+m.colAlign)%m.gridHeight() == m.p.Row() &&
		(j+m.rowAlign)%m.gridWidth() == m.p.Col()
}

// LocalRow converts an owned global row index to a local one.
func (m *Matrix) LocalRow(i int) int { return (i - m.colShift()) / m.gridHeight() }

// LocalCol converts an owned global column index to a local one.
func (m *Matrix) LocalCol(j int) int { return (j - m.rowShift()) / m.gridWidth() }

// GlobalRow converts a local row index to a global one.
func (m *Matrix) GlobalRow(i int) int { return m.colShift() + i*m.gridHeight() }

// GlobalCol converts a local column index to a global one.
func (m *Matrix) GlobalCol(j int) int { return m.rowShift() + j*m.gridWidth() }

// GetLocal returns the local entry (i, j).
func (m *Matrix) GetLocal(i, j int) float64 { return m.local.At(i, j) }

// SetLocal sets the local entry (i, j).
func (m *Matrix) SetLocal(i, j int, v float64) { m.local.Set(i, j, v) }

// Set writes global entry (i, j) on the process that owns it and does
// nothing elsewhere.
func (m *Matrix) Set(i, j int, v float64) {
	if m.IsLocal(i, j) {
		m.local.Set(m.LocalRow(i), m.LocalCol(j), v)
	}
}

// Get returns global entry (i, j) on every process. It is collective.
func (m *Matrix) Get(i, j int) float64 {
	var v float64
	if m.IsLocal(i, j) {
		v = m.local.At(m.LocalRow(i), m.LocalCol(j))
	}
	return m.p.World().AllReduceSum(v)
}

// String describes the global and local shape.
func (m *Matrix) String() string {
	return fmt.Sprintf("dist.Matrix{%dx%d local %dx%d align (%d,%d)}",
		m.height, m.width, m.LocalHeight(), m.LocalWidth(), m.colAlign, m.rowAlign)
}

func (m *Matrix) gridHeight() int { return m.p.Grid().Height() }
func (m *Matrix) gridWidth() int  { return m.p.Grid().Width() }

// colShift is the first global row owned by this process.
func (m *Matrix) colShift() int { return shift(m.p.Row(), m.colAlign, m.gridHeight()) }

// rowShift is the first global column owned by this process.
func (m *Matrix) rowShift() int { return shift(m.p.Col(), m.rowAlign, m.gridWidth()) }

func shift(coord, align, stride int) int {
	return ((coord-align)%stride + stride) % stride
}

func length(n, shift, stride int) int {
	if n <= shift {
		return 0
	}
	return (n-shift-1)/stride + 1
}

// aligned reports whether a and b place equal global indices on the same
// process, which lets local blocks be combined without communication.
func aligned(a, b *Matrix) bool {
	return a.p.Grid() == b.p.Grid() && a.colAlign == b.colAlign && a.rowAlign == b.rowAlign
}

func sameShape(a, b *Matrix) {
	if a.height != b.height || a.width != b.width {
		panic(mat.ErrShape)
	}
}
