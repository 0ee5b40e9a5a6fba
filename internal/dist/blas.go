package dist

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/gridneuron/internal/grid"
)

// Gather returns the whole logical matrix on every process. It is collective
// over the world communicator.
func Gather(a *Matrix) *mat.Dense {
	if a.height == 0 || a.width == 0 {
		return &mat.Dense{}
	}
	lh, lw := a.LocalHeight(), a.LocalWidth()
	buf := make([]float64, 0, lh*lw)
	for i := 0; i < lh; i++ {
		for j := 0; j < lw; j++ {
			buf = append(buf, a.local.At(i, j))
		}
	}
	parts := a.p.World().AllGather(buf)

	h, w := a.gridHeight(), a.gridWidth()
	out := mat.NewDense(a.height, a.width, nil)
	for rank, part := range parts {
		cs := shift(rank%h, a.colAlign, h)
		rs := shift(rank/h, a.rowAlign, w)
		ph, pw := length(a.height, cs, h), length(a.width, rs, w)
		for i := 0; i < ph; i++ {
			for j := 0; j < pw; j++ {
				out.Set(cs+i*h, rs+j*w, part[i*pw+j])
			}
		}
	}
	return out
}

// SetFromDense copies the entries of g owned by this process into a. Every
// process is expected to hold the same g; no communication takes place.
func SetFromDense(a *Matrix, g mat.Matrix) {
	r, c := g.Dims()
	if r != a.height || c != a.width {
		panic(mat.ErrShape)
	}
	if a.local == nil {
		return
	}
	a.local.Apply(func(i, j int, _ float64) float64 {
		return g.At(a.GlobalRow(i), a.GlobalCol(j))
	}, a.local)
}

// localLike returns src's values laid out like dst's local block. Matrices
// with different alignments are redistributed through Gather, so the call is
// collective whenever src and dst are not aligned.
func localLike(src, dst *Matrix) *mat.Dense {
	if aligned(src, dst) {
		return src.local
	}
	full := Gather(src)
	if dst.local == nil {
		return nil
	}
	lh, lw := dst.LocalHeight(), dst.LocalWidth()
	out := mat.NewDense(lh, lw, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		return full.At(dst.GlobalRow(i), dst.GlobalCol(j))
	}, out)
	return out
}

// Copy sets dst = src.
func Copy(src, dst *Matrix) {
	sameShape(src, dst)
	v := localLike(src, dst)
	if dst.local != nil {
		dst.local.Copy(v)
	}
}

// Axpy sets y = y + alpha*x.
func Axpy(alpha float64, x, y *Matrix) {
	sameShape(x, y)
	v := localLike(x, y)
	if y.local != nil {
		var t mat.Dense
		t.Scale(alpha, v)
		y.local.Add(y.local, &t)
	}
}

// Hadamard sets c = a ∘ b elementwise. c may alias a or b.
func Hadamard(a, b, c *Matrix) {
	sameShape(a, b)
	sameShape(a, c)
	av := localLike(a, c)
	bv := localLike(b, c)
	if c.local != nil {
		c.local.MulElem(av, bv)
	}
}

// Scale sets a = alpha*a.
func Scale(alpha float64, a *Matrix) {
	if a.local != nil {
		a.local.Scale(alpha, a.local)
	}
}

// Zero sets every entry of a to zero.
func Zero(a *Matrix) {
	if a.local != nil {
		a.local.Zero()
	}
}

// Fill sets every entry of a to v.
func Fill(a *Matrix, v float64) {
	EntrywiseMap(a, func(float64) float64 { return v })
}

// EntrywiseMap replaces every entry x of a with f(x).
func EntrywiseMap(a *Matrix, f func(float64) float64) {
	if a.local == nil {
		return
	}
	a.local.Apply(func(_, _ int, v float64) float64 { return f(v) }, a.local)
}

// Gemm computes C = alpha*op(A)*op(B) + beta*C where op transposes its
// operand when the matching flag is set. It is collective.
//
// Each process gathers both operands whole and multiplies only the rows and
// columns of the product that it owns in C, so memory and traffic per process
// grow with the global operand size.
func Gemm(transA, transB bool, alpha float64, a, b *Matrix, beta float64, c *Matrix) {
	var opA, opB mat.Matrix = Gather(a), Gather(b)
	if transA {
		opA = opA.T()
	}
	if transB {
		opB = opB.T()
	}
	ar, ak := opA.Dims()
	bk, bc := opB.Dims()
	if ak != bk || ar != c.height || bc != c.width {
		panic(mat.ErrShape)
	}
	if c.local == nil {
		return
	}

	lh, lw := c.LocalHeight(), c.LocalWidth()
	rows := mat.NewDense(lh, ak, nil)
	rows.Apply(func(i, k int, _ float64) float64 { return opA.At(c.GlobalRow(i), k) }, rows)
	cols := mat.NewDense(bk, lw, nil)
	cols.Apply(func(k, j int, _ float64) float64 { return opB.At(k, c.GlobalCol(j)) }, cols)

	var prod mat.Dense
	prod.Mul(rows, cols)
	if beta == 0 {
		c.local.Scale(alpha, &prod)
		return
	}
	c.local.Scale(beta, c.local)
	prod.Scale(alpha, &prod)
	c.local.Add(c.local, &prod)
}

// Nrm2 returns the Frobenius norm of a. It is collective.
func Nrm2(a *Matrix) float64 {
	var ss float64
	if a.local != nil {
		n := mat.Norm(a.local, 2)
		ss = n * n
	}
	return math.Sqrt(a.p.World().AllReduceSum(ss))
}

// ColumnNorms holds the 2-norms of a matrix's columns, distributed like the
// columns themselves: a process holds the norms of the columns it owns.
type ColumnNorms struct {
	values []float64
	height int
	comm   *grid.Comm
}

// ColumnTwoNorms returns the 2-norm of every column of a. It is collective
// over the column communicator.
func ColumnTwoNorms(a *Matrix) *ColumnNorms {
	lw := a.LocalWidth()
	values := make([]float64, lw)
	if a.local != nil {
		col := make([]float64, a.LocalHeight())
		for j := range values {
			mat.Col(col, j, a.local)
			values[j] = floats.Dot(col, col)
		}
	}
	a.p.ColComm().AllReduceSumSlice(values)
	for j, v := range values {
		values[j] = math.Sqrt(v)
	}
	return &ColumnNorms{values: values, height: a.width, comm: a.p.RowComm()}
}

// Height returns the number of norms, which is the column count of the
// source matrix.
func (n *ColumnNorms) Height() int { return n.height }

// LocalHeight returns the number of norms held by this process.
func (n *ColumnNorms) LocalHeight() int { return len(n.values) }

// GetLocal returns the i-th local norm.
func (n *ColumnNorms) GetLocal(i int) float64 { return n.values[i] }

// LocalSum returns the sum of the local norms.
func (n *ColumnNorms) LocalSum() float64 { return floats.Sum(n.values) }

// DistComm returns the communicator over which the norms are partitioned.
// Summing LocalSum over it yields the total of all norms.
func (n *ColumnNorms) DistComm() *grid.Comm { return n.comm }
