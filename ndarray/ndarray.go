// Package ndarray holds the numeric array type that actions and observations
// use inside the server. On the wire an Array is a nested JSON array (a bare
// number for 0-d arrays); in memory it is a flat row-major []float64 plus a
// shape.
package ndarray

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	// ErrRagged is returned when a nested array has rows of different lengths.
	ErrRagged = errors.New("ndarray: ragged nested array")

	// ErrShape is returned when data does not fit the requested shape.
	ErrShape = errors.New("ndarray: data does not match shape")
)

// Array is an n-dimensional array of float64 stored in row-major order. The
// zero value is an empty 1-d array.
type Array struct {
	shape []int
	data  []float64
}

// New builds an Array from a shape and row-major data. A nil or empty shape
// makes a 0-d scalar holding exactly one value.
func New(shape []int, data []float64) (Array, error) {
	size := 1
	for _, d := range shape {
		if d < 0 {
			return Array{}, fmt.Errorf("%w: negative dimension %d", ErrShape, d)
		}
		size *= d
	}

	if size != len(data) {
		return Array{}, fmt.Errorf("%w: shape %v wants %d values, got %d", ErrShape, shape, size, len(data))
	}

	return Array{
		shape: append([]int{}, shape...),
		data:  append([]float64{}, data...),
	}, nil
}

// Vector returns a 1-d Array holding a copy of values.
func Vector(values ...float64) Array {
	return Array{
		shape: []int{len(values)},
		data:  append([]float64{}, values...),
	}
}

// Scalar returns a 0-d Array.
func Scalar(v float64) Array {
	return Array{shape: []int{}, data: []float64{v}}
}

// Full returns an Array of the given shape with every element set to v.
func Full(shape []int, v float64) Array {
	size := 1
	for _, d := range shape {
		size *= d
	}

	data := make([]float64, size)
	for i := range data {
		data[i] = v
	}

	return Array{shape: append([]int{}, shape...), data: data}
}

// Shape returns a copy of the array's dimensions.
func (a Array) Shape() []int {
	if a.shape == nil {
		return []int{len(a.data)}
	}

	return append([]int{}, a.shape...)
}

// Data returns a copy of the flat row-major values.
func (a Array) Data() []float64 {
	return append([]float64{}, a.data...)
}

// Len returns the total number of elements.
func (a Array) Len() int {
	return len(a.data)
}

// At returns the i-th element in row-major order.
func (a Array) At(i int) float64 {
	return a.data[i]
}

// Ndim returns the number of dimensions.
func (a Array) Ndim() int {
	return len(a.Shape())
}

// IsScalar reports whether the array is 0-d.
func (a Array) IsScalar() bool {
	return a.shape != nil && len(a.shape) == 0
}

// SameShape reports whether a and b have identical dimensions.
func (a Array) SameShape(b Array) bool {
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) {
		return false
	}

	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}

	return true
}

// Equal reports whether a and b have the same shape and every pair of
// elements differs by at most tol.
func (a Array) Equal(b Array, tol float64) bool {
	if !a.SameShape(b) {
		return false
	}

	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}

	return true
}

// String renders the array in its nested JSON form.
func (a Array) String() string {
	b, err := a.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("ndarray(%v)", a.data)
	}

	return string(b)
}

// MarshalJSON encodes the array as nested JSON arrays.
func (a Array) MarshalJSON() ([]byte, error) {
	for _, v := range a.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("ndarray: %v cannot be encoded as JSON", v)
		}
	}

	var buf bytes.Buffer
	if a.IsScalar() {
		buf.WriteString(formatFloat(a.data[0]))
		return buf.Bytes(), nil
	}

	shape := a.Shape()
	offset := 0
	writeNested(&buf, shape, a.data, &offset)
	return buf.Bytes(), nil
}

func writeNested(buf *bytes.Buffer, shape []int, data []float64, offset *int) {
	buf.WriteByte('[')
	for i := 0; i < shape[0]; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}

		if len(shape) == 1 {
			buf.WriteString(formatFloat(data[*offset]))
			*offset++
			continue
		}

		writeNested(buf, shape[1:], data, offset)
	}
	buf.WriteByte(']')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// UnmarshalJSON decodes a number or a rectangular nested array of numbers.
func (a *Array) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("ndarray: %w", err)
	}

	if raw == nil {
		return fmt.Errorf("ndarray: null is not an array")
	}

	shape, err := inferShape(raw)
	if err != nil {
		return err
	}

	data := make([]float64, 0, 8)
	if err := flatten(raw, shape, &data); err != nil {
		return err
	}

	a.shape = shape
	a.data = data
	return nil
}

func inferShape(v any) ([]int, error) {
	shape := []int{}
	for {
		switch t := v.(type) {
		case json.Number:
			return shape, nil
		case []any:
			shape = append(shape, len(t))
			if len(t) == 0 {
				return shape, nil
			}
			v = t[0]
		default:
			return nil, fmt.Errorf("ndarray: unsupported element %T", v)
		}
	}
}

func flatten(v any, shape []int, out *[]float64) error {
	if len(shape) == 0 {
		n, ok := v.(json.Number)
		if !ok {
			return ErrRagged
		}

		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("ndarray: %w", err)
		}

		*out = append(*out, f)
		return nil
	}

	list, ok := v.([]any)
	if !ok || len(list) != shape[0] {
		return ErrRagged
	}

	for _, item := range list {
		if err := flatten(item, shape[1:], out); err != nil {
			return err
		}
	}

	return nil
}
