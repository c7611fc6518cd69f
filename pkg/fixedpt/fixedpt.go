// Package fixedpt implements 17.14 fixed-point arithmetic for scheduler
// statistics. The kernel has no floating point; load averages and CPU
// usage accumulators are kept in this representation instead.
package fixedpt

// Val is a fixed-point number with 14 fractional bits.
type Val int64

const fracBits = 14

// f is the scaling factor: 1.0 in fixed-point.
const f = 1 << fracBits

// FromInt converts an integer to fixed-point.
func FromInt(n int) Val {
	return Val(int64(n) << fracBits)
}

// Frac returns the fixed-point value num/den. den must be non-zero.
func Frac(num, den int) Val {
	return Val(int64(num) << fracBits / int64(den))
}

// Trunc converts to integer, rounding toward zero.
func (x Val) Trunc() int {
	return int(int64(x) / f)
}

// Round converts to integer, rounding to nearest.
func (x Val) Round() int {
	if x >= 0 {
		return int((int64(x) + f/2) >> fracBits)
	}
	return int((int64(x) - f/2) / f)
}

// Add returns x + y.
func (x Val) Add(y Val) Val {
	return x + y
}

// Sub returns x - y.
func (x Val) Sub(y Val) Val {
	return x - y
}

// AddInt returns x + n.
func (x Val) AddInt(n int) Val {
	return x + FromInt(n)
}

// Mul returns x * y. The intermediate product is widened before the
// shift so that mixed-magnitude operands do not lose the high bits.
func (x Val) Mul(y Val) Val {
	return Val(int64(x) * int64(y) >> fracBits)
}

// Div returns x / y. y must be non-zero.
func (x Val) Div(y Val) Val {
	return Val(int64(x) << fracBits / int64(y))
}

// MulInt returns x * n.
func (x Val) MulInt(n int) Val {
	return Val(int64(x) * int64(n))
}

// DivInt returns x / n. n must be non-zero.
func (x Val) DivInt(n int) Val {
	return Val(int64(x) / int64(n))
}
