// Package spaces describes the observation and action domains of an
// environment. A Space travels over the wire as a Descriptor, a tagged
// variant of "box" or "discrete", which carries everything the remote side
// needs to rebuild a type-checked space.
package spaces

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cyberinferno/envserver/ndarray"
)

// Kind tags a space descriptor.
type Kind string

const (
	KindBox      Kind = "box"
	KindDiscrete Kind = "discrete"
)

// MaxBound stands in for an unbounded box limit; JSON cannot carry infinity.
const MaxBound = math.MaxFloat32

// ErrInvalidDescriptor is returned by FromDescriptor for incomplete or
// inconsistent descriptors.
var ErrInvalidDescriptor = errors.New("invalid space descriptor")

// UnmarshalText accepts the canonical names and the gym-style names the
// legacy Python servers sent ("gym.spaces.Box", "gym.spaces.Discrete").
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "box", "gym.spaces.Box":
		*k = KindBox
	case "discrete", "gym.spaces.Discrete":
		*k = KindDiscrete
	default:
		return fmt.Errorf("%w: unknown space %q", ErrInvalidDescriptor, string(text))
	}

	return nil
}

// Descriptor is the wire form of a Space.
type Descriptor struct {
	Space Kind           `json:"space"`
	Low   *ndarray.Array `json:"low,omitempty"`
	High  *ndarray.Array `json:"high,omitempty"`
	Shape []int          `json:"shape,omitempty"`
	DType string         `json:"dtype,omitempty"`
	N     int            `json:"n,omitempty"`
}

// Space is an observation or action domain.
type Space interface {
	Kind() Kind
	Descriptor() Descriptor

	// Contains reports whether x is a valid member of the space.
	Contains(x ndarray.Array) bool

	// Sample draws a uniformly random member of the space.
	Sample(rng *rand.Rand) ndarray.Array
}

// Box is a bounded n-dimensional continuous (or integer) domain.
type Box struct {
	Low   ndarray.Array
	High  ndarray.Array
	DType string
}

// NewBox validates that low and high share a shape and low <= high.
func NewBox(low, high ndarray.Array, dtype string) (*Box, error) {
	if !low.SameShape(high) {
		return nil, fmt.Errorf("%w: low shape %v differs from high shape %v", ErrInvalidDescriptor, low.Shape(), high.Shape())
	}

	for i := 0; i < low.Len(); i++ {
		if low.At(i) > high.At(i) {
			return nil, fmt.Errorf("%w: low[%d]=%v exceeds high[%d]=%v", ErrInvalidDescriptor, i, low.At(i), i, high.At(i))
		}
	}

	if dtype == "" {
		dtype = "float32"
	}

	return &Box{Low: low, High: high, DType: dtype}, nil
}

// UniformBox returns a box of the given shape with identical bounds on every
// element.
func UniformBox(shape []int, low, high float64, dtype string) *Box {
	if dtype == "" {
		dtype = "float32"
	}

	return &Box{
		Low:   ndarray.Full(shape, low),
		High:  ndarray.Full(shape, high),
		DType: dtype,
	}
}

// Shape returns the box dimensions.
func (b *Box) Shape() []int {
	return b.Low.Shape()
}

func (b *Box) Kind() Kind {
	return KindBox
}

func (b *Box) Descriptor() Descriptor {
	low, high := b.Low, b.High
	return Descriptor{
		Space: KindBox,
		Low:   &low,
		High:  &high,
		Shape: b.Shape(),
		DType: b.DType,
	}
}

func (b *Box) Contains(x ndarray.Array) bool {
	if !x.SameShape(b.Low) {
		return false
	}

	for i := 0; i < x.Len(); i++ {
		v := x.At(i)
		if v < b.Low.At(i) || v > b.High.At(i) {
			return false
		}
		if isIntegerDType(b.DType) && v != math.Trunc(v) {
			return false
		}
	}

	return true
}

func (b *Box) Sample(rng *rand.Rand) ndarray.Array {
	data := make([]float64, b.Low.Len())
	for i := range data {
		lo, hi := b.Low.At(i), b.High.At(i)
		v := lo + rng.Float64()*(hi-lo)
		if isIntegerDType(b.DType) {
			v = math.Floor(v)
		}
		data[i] = v
	}

	a, _ := ndarray.New(b.Shape(), data)
	return a
}

// Discrete is the set {0, 1, ..., N-1}. Members travel as 0-d arrays.
type Discrete struct {
	N int
}

func (d *Discrete) Kind() Kind {
	return KindDiscrete
}

func (d *Discrete) Descriptor() Descriptor {
	return Descriptor{Space: KindDiscrete, N: d.N}
}

func (d *Discrete) Contains(x ndarray.Array) bool {
	if x.Len() != 1 || x.Ndim() > 1 {
		return false
	}

	v := x.At(0)
	return v == math.Trunc(v) && v >= 0 && v < float64(d.N)
}

func (d *Discrete) Sample(rng *rand.Rand) ndarray.Array {
	return ndarray.Scalar(float64(rng.Intn(d.N)))
}

// FromDescriptor rebuilds a Space, rejecting descriptors that are missing
// fields or internally inconsistent.
func FromDescriptor(d Descriptor) (Space, error) {
	switch d.Space {
	case KindBox:
		if d.Low == nil || d.High == nil {
			return nil, fmt.Errorf("%w: box requires low and high", ErrInvalidDescriptor)
		}

		box, err := NewBox(*d.Low, *d.High, d.DType)
		if err != nil {
			return nil, err
		}

		if d.Shape != nil && !sameInts(d.Shape, box.Shape()) {
			return nil, fmt.Errorf("%w: shape %v does not match bounds shape %v", ErrInvalidDescriptor, d.Shape, box.Shape())
		}

		return box, nil
	case KindDiscrete:
		if d.N < 1 {
			return nil, fmt.Errorf("%w: discrete requires n >= 1, got %d", ErrInvalidDescriptor, d.N)
		}

		return &Discrete{N: d.N}, nil
	default:
		return nil, fmt.Errorf("%w: unknown space %q", ErrInvalidDescriptor, d.Space)
	}
}

func isIntegerDType(dtype string) bool {
	switch dtype {
	case "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32", "uint64":
		return true
	}

	return false
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
