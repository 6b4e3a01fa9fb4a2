package throne

import "math/bits"

// percentOf returns floor(amount*pct/100). pct is at most 100 so the
// quotient always fits in 64 bits.
func percentOf(amount, pct uint64) uint64 {
	hi, lo := bits.Mul64(amount, pct)
	q, _ := bits.Div64(hi, lo, 100)
	return q
}

// addChecked returns a+b and false if the sum overflows.
func addChecked(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}
