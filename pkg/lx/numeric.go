package lx

import "fmt"

// Integer is satisfied by every integer type.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Float is satisfied by every floating-point type.
type Float interface {
	~float32 | ~float64
}

// Number is satisfied by integers and floats.
type Number interface {
	Integer | Float
}

// Inc increments the value by 1.
func Inc[T Number](c *Cell[T]) error {
	return c.Update(func(v T) T { return v + 1 })
}

// Dec decrements the value by 1.
func Dec[T Number](c *Cell[T]) error {
	return c.Update(func(v T) T { return v - 1 })
}

// Add adds n.
func Add[T Number](c *Cell[T], n T) error {
	return c.Update(func(v T) T { return v + n })
}

// Sub subtracts n.
func Sub[T Number](c *Cell[T], n T) error {
	return c.Update(func(v T) T { return v - n })
}

// Mul multiplies by n.
func Mul[T Number](c *Cell[T], n T) error {
	return c.Update(func(v T) T { return v * n })
}

// DivExact divides by d. It fails with ErrDivideByZero or
// ErrInexactDivision and leaves the value untouched when d is zero or does
// not divide the current value.
func DivExact[T Integer](c *Cell[T], d T) error {
	if d == 0 {
		return ErrDivideByZero
	}
	v := c.Peek()
	if v%d != 0 {
		return fmt.Errorf("%w: %v is not divisible by %v", ErrInexactDivision, v, d)
	}
	return c.Set(v / d)
}

// Toggle flips a boolean cell.
func Toggle(c *Cell[bool]) error {
	return c.Update(func(v bool) bool { return !v })
}
