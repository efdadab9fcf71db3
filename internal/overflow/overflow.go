// Package overflow provides checked integer arithmetic. FHIRPath integer
// operations that overflow evaluate to the empty collection rather than
// wrapping, so every operation reports whether its result is valid.
package overflow

// Integer covers the two FHIRPath integer widths.
type Integer interface {
	~int32 | ~int64
}

func Add[T Integer](a, b T) (T, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func Sub[T Integer](a, b T) (T, bool) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, false
	}
	return diff, true
}

func Mul[T Integer](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}

// Div reports false for division by zero and for the single overflowing
// case, MinInt / -1.
func Div[T Integer](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	if b == -1 && a == minOf[T]() {
		return 0, false
	}
	return a / b, true
}

func Mod[T Integer](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	if b == -1 && a == minOf[T]() {
		return 0, true
	}
	return a % b, true
}

func minOf[T Integer]() T {
	// Shift a set bit into the sign position of the concrete width.
	v := T(1)
	for v > 0 {
		v <<= 1
	}
	return v
}
