// Package tensor provides the dense float32 tensor type used by the model
// layers and the pipeline stages.
//
// The implementation is deliberately small: row-major storage, precomputed
// strides, and only the operations the transformer forward pass needs
// (matmul, broadcast add/mul, softmax, masking). Everything is CPU-side and
// single-threaded; batching across devices is the job of the caller.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a multi-dimensional array of float32 values stored row-major
// in a flat slice.
type Tensor struct {
	Data    []float32
	Shape   []int
	Strides []int
}

// New creates a zero-initialized tensor with the given shape.
func New(shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{
		Data:    make([]float32, size),
		Shape:   append([]int(nil), shape...),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor that copies data into the given shape.
// Returns an error if the element count does not match the shape.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", d, shape)
		}
		size *= d
	}
	if len(data) != size {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, size)
	}
	t := New(shape...)
	copy(t.Data, data)
	return t, nil
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int { return len(t.Shape) }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// flatIndex converts multi-dimensional indices to a flat offset.
func (t *Tensor) flatIndex(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: %d indices for %dD tensor", len(idx), len(t.Shape)))
	}
	flat := 0
	for i, ix := range idx {
		if ix < 0 || ix >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dim %d (size %d)", ix, i, t.Shape[i]))
		}
		flat += ix * t.Strides[i]
	}
	return flat
}

// At returns the element at the given indices.
func (t *Tensor) At(idx ...int) float32 { return t.Data[t.flatIndex(idx)] }

// SetAt stores v at the given indices.
func (t *Tensor) SetAt(v float32, idx ...int) { t.Data[t.flatIndex(idx)] = v }

// Reshape returns a tensor sharing the same data with a new shape.
// The element count must be unchanged.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != t.Size() {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	return &Tensor{
		Data:    t.Data,
		Shape:   append([]int(nil), shape...),
		Strides: computeStrides(shape),
	}, nil
}

// Transpose returns a new tensor with dimensions d1 and d2 swapped.
// The result is materialized, not a view.
func (t *Tensor) Transpose(d1, d2 int) (*Tensor, error) {
	n := len(t.Shape)
	if d1 < 0 || d1 >= n || d2 < 0 || d2 >= n {
		return nil, fmt.Errorf("transpose dims (%d, %d) out of range for %dD tensor", d1, d2, n)
	}
	outShape := append([]int(nil), t.Shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]
	out := New(outShape...)

	idx := make([]int, n)
	src := make([]int, n)
	for flat := 0; flat < out.Size(); flat++ {
		rem := flat
		for i := 0; i < n; i++ {
			idx[i] = rem / out.Strides[i]
			rem %= out.Strides[i]
		}
		copy(src, idx)
		src[d1], src[d2] = src[d2], src[d1]
		out.Data[flat] = t.At(src...)
	}
	return out, nil
}

// Scale returns a new tensor with every element multiplied by s.
func (t *Tensor) Scale(s float32) *Tensor {
	out := New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = v * s
	}
	return out
}

// Add returns the element-wise sum of a and b. b may have fewer dimensions
// than a, in which case it is broadcast over a's leading dimensions
// (e.g. a (batch, heads, seq, seq) bias plus a (seq, seq) mask).
func Add(a, b *Tensor) (*Tensor, error) {
	return elementWise(a, b, func(x, y float32) float32 { return x + y })
}

// Mul returns the element-wise product of a and b, with the same
// trailing-dimension broadcasting rules as Add.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementWise(a, b, func(x, y float32) float32 { return x * y })
}

func elementWise(a, b *Tensor, op func(float32, float32) float32) (*Tensor, error) {
	if len(b.Shape) > len(a.Shape) {
		return nil, fmt.Errorf("cannot broadcast %v onto %v", b.Shape, a.Shape)
	}
	offset := len(a.Shape) - len(b.Shape)
	for i, d := range b.Shape {
		if d != a.Shape[offset+i] {
			return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
		}
	}
	out := New(a.Shape...)
	bsize := b.Size()
	for i, v := range a.Data {
		out.Data[i] = op(v, b.Data[i%bsize])
	}
	return out, nil
}

// Matmul multiplies a and b. Supported combinations:
//   - (m, k) x (k, n)                      -> (m, n)
//   - (batch, m, k) x (k, n)               -> (batch, m, n)
//   - (b1, b2, m, k) x (b1, b2, k, n)      -> (b1, b2, m, n)
//
// The 3D x 2D form covers linear projections over a (batch, seq, dim)
// activation; the 4D form covers per-head attention products.
func Matmul(a, b *Tensor) (*Tensor, error) {
	switch {
	case a.Dims() == 2 && b.Dims() == 2:
		return matmul2D(a, b)
	case a.Dims() == 3 && b.Dims() == 2:
		return matmul3D2D(a, b)
	case a.Dims() == 4 && b.Dims() == 4:
		return matmulBatched(a, b)
	default:
		return nil, fmt.Errorf("unsupported matmul shapes %v x %v", a.Shape, b.Shape)
	}
}

func matmul2D(a, b *Tensor) (*Tensor, error) {
	m, k := a.Shape[0], a.Shape[1]
	if b.Shape[0] != k {
		return nil, fmt.Errorf("matmul inner dims differ: %v x %v", a.Shape, b.Shape)
	}
	n := b.Shape[1]
	out := New(m, n)
	for i := 0; i < m; i++ {
		for kk := 0; kk < k; kk++ {
			av := a.Data[i*k+kk]
			if av == 0 {
				continue
			}
			row := b.Data[kk*n : (kk+1)*n]
			outRow := out.Data[i*n : (i+1)*n]
			for j, bv := range row {
				outRow[j] += av * bv
			}
		}
	}
	return out, nil
}

func matmul3D2D(a, b *Tensor) (*Tensor, error) {
	batch, m, k := a.Shape[0], a.Shape[1], a.Shape[2]
	if b.Shape[0] != k {
		return nil, fmt.Errorf("matmul inner dims differ: %v x %v", a.Shape, b.Shape)
	}
	n := b.Shape[1]
	flat := &Tensor{Data: a.Data, Shape: []int{batch * m, k}, Strides: computeStrides([]int{batch * m, k})}
	out, err := matmul2D(flat, b)
	if err != nil {
		return nil, err
	}
	return out.Reshape(batch, m, n)
}

func matmulBatched(a, b *Tensor) (*Tensor, error) {
	if a.Shape[0] != b.Shape[0] || a.Shape[1] != b.Shape[1] {
		return nil, fmt.Errorf("batched matmul batch dims differ: %v x %v", a.Shape, b.Shape)
	}
	m, k := a.Shape[2], a.Shape[3]
	if b.Shape[2] != k {
		return nil, fmt.Errorf("matmul inner dims differ: %v x %v", a.Shape, b.Shape)
	}
	n := b.Shape[3]
	batches := a.Shape[0] * a.Shape[1]
	out := New(a.Shape[0], a.Shape[1], m, n)
	for bi := 0; bi < batches; bi++ {
		sa := &Tensor{Data: a.Data[bi*m*k : (bi+1)*m*k], Shape: []int{m, k}, Strides: computeStrides([]int{m, k})}
		sb := &Tensor{Data: b.Data[bi*k*n : (bi+1)*k*n], Shape: []int{k, n}, Strides: computeStrides([]int{k, n})}
		so, err := matmul2D(sa, sb)
		if err != nil {
			return nil, err
		}
		copy(out.Data[bi*m*n:(bi+1)*m*n], so.Data)
	}
	return out, nil
}

// SoftmaxLast applies softmax along the last dimension. Rows containing
// -Inf entries are handled by the usual max-subtraction trick: fully
// masked entries contribute exp(-Inf) = 0 weight.
func SoftmaxLast(t *Tensor) *Tensor {
	n := t.Shape[len(t.Shape)-1]
	rows := t.Size() / n
	out := New(t.Shape...)
	for r := 0; r < rows; r++ {
		row := t.Data[r*n : (r+1)*n]
		outRow := out.Data[r*n : (r+1)*n]

		maxVal := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		if math.IsInf(float64(maxVal), -1) {
			// Fully masked row: no position is attendable, leave the
			// weights at zero instead of producing NaN.
			continue
		}

		var sum float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			outRow[i] = e
			sum += e
		}
		if sum == 0 {
			continue
		}
		inv := 1 / sum
		for i := range outRow {
			outRow[i] *= inv
		}
	}
	return out
}

// CausalMask returns a (seq, seq) boolean mask tensor for autoregressive
// attention: entry (i, j) is 1 when position j is in the future of position
// i and must not be attended to, 0 otherwise.
func CausalMask(seq int) *Tensor {
	mask := New(seq, seq)
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			mask.Data[i*seq+j] = 1
		}
	}
	return mask
}

// ShapeEquals reports whether t and o have identical shapes.
func (t *Tensor) ShapeEquals(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if o.Shape[i] != d {
			return false
		}
	}
	return true
}

// Equals reports whether t and o have the same shape and element-wise
// values within tol. Infinities of the same sign compare equal.
func (t *Tensor) Equals(o *Tensor, tol float32) bool {
	if !t.ShapeEquals(o) {
		return false
	}
	for i, v := range t.Data {
		w := o.Data[i]
		if v == w {
			continue
		}
		if math.Abs(float64(v-w)) > float64(tol) {
			return false
		}
	}
	return true
}

// String returns a compact description, e.g. "Tensor(2, 8, 64)".
func (t *Tensor) String() string {
	s := "Tensor("
	for i, d := range t.Shape {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprint(d)
	}
	return s + ")"
}
