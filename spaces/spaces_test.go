package spaces

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/envserver/ndarray"
)

func TestBox_Descriptor(t *testing.T) {
	box := UniformBox([]int{3}, -1, 1, "float32")

	b, err := json.Marshal(box.Descriptor())
	require.NoError(t, err)
	assert.JSONEq(t, `{"space":"box","low":[-1,-1,-1],"high":[1,1,1],"shape":[3],"dtype":"float32"}`, string(b))
}

func TestDiscrete_Descriptor(t *testing.T) {
	b, err := json.Marshal((&Discrete{N: 2}).Descriptor())
	require.NoError(t, err)
	assert.JSONEq(t, `{"space":"discrete","n":2}`, string(b))
}

func TestFromDescriptor(t *testing.T) {
	t.Run("box survives a wire round trip", func(t *testing.T) {
		low, err := ndarray.New([]int{3, 1}, []float64{-12, -0.01, -0.4})
		require.NoError(t, err)
		high, err := ndarray.New([]int{3, 1}, []float64{12, 0.01, 0.4})
		require.NoError(t, err)
		box, err := NewBox(low, high, "float32")
		require.NoError(t, err)

		b, err := json.Marshal(box.Descriptor())
		require.NoError(t, err)

		var d Descriptor
		require.NoError(t, json.Unmarshal(b, &d))
		rebuilt, err := FromDescriptor(d)
		require.NoError(t, err)

		rb, ok := rebuilt.(*Box)
		require.True(t, ok)
		assert.Equal(t, []int{3, 1}, rb.Shape())
		assert.True(t, rb.Low.Equal(low, 0))
		assert.True(t, rb.High.Equal(high, 0))
		assert.Equal(t, "float32", rb.DType)
	})

	t.Run("legacy gym names are accepted", func(t *testing.T) {
		var d Descriptor
		require.NoError(t, json.Unmarshal([]byte(`{"space":"gym.spaces.Discrete","n":4}`), &d))
		s, err := FromDescriptor(d)
		require.NoError(t, err)
		assert.Equal(t, KindDiscrete, s.Kind())
	})

	t.Run("unknown space name fails to decode", func(t *testing.T) {
		var d Descriptor
		err := json.Unmarshal([]byte(`{"space":"tuple"}`), &d)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("box without bounds is rejected", func(t *testing.T) {
		_, err := FromDescriptor(Descriptor{Space: KindBox, Shape: []int{3}})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("shape disagreeing with bounds is rejected", func(t *testing.T) {
		low, high := ndarray.Vector(0, 0), ndarray.Vector(1, 1)
		_, err := FromDescriptor(Descriptor{Space: KindBox, Low: &low, High: &high, Shape: []int{3}})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("inverted bounds are rejected", func(t *testing.T) {
		low, high := ndarray.Vector(1), ndarray.Vector(0)
		_, err := FromDescriptor(Descriptor{Space: KindBox, Low: &low, High: &high})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("discrete needs a positive n", func(t *testing.T) {
		_, err := FromDescriptor(Descriptor{Space: KindDiscrete})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})

	t.Run("missing tag is rejected", func(t *testing.T) {
		_, err := FromDescriptor(Descriptor{})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})
}

func TestBox_Contains(t *testing.T) {
	box := UniformBox([]int{2}, -1, 1, "")

	assert.True(t, box.Contains(ndarray.Vector(0, 1)))
	assert.False(t, box.Contains(ndarray.Vector(0, 1.5)))
	assert.False(t, box.Contains(ndarray.Vector(0)))

	ints := UniformBox([]int{1}, 0, 10, "int64")
	assert.True(t, ints.Contains(ndarray.Vector(3)))
	assert.False(t, ints.Contains(ndarray.Vector(3.5)))
}

func TestDiscrete_Contains(t *testing.T) {
	d := &Discrete{N: 2}

	assert.True(t, d.Contains(ndarray.Scalar(0)))
	assert.True(t, d.Contains(ndarray.Vector(1)))
	assert.False(t, d.Contains(ndarray.Scalar(2)))
	assert.False(t, d.Contains(ndarray.Scalar(0.5)))
	assert.False(t, d.Contains(ndarray.Vector(0, 1)))
}

func TestSample_staysInside(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	spaces := []Space{
		UniformBox([]int{4}, -MaxBound, MaxBound, "float32"),
		UniformBox([]int{2, 2}, 0, 1, "float64"),
		UniformBox([]int{3}, 0, 5, "int32"),
		&Discrete{N: 3},
	}

	for _, s := range spaces {
		for i := 0; i < 50; i++ {
			x := s.Sample(rng)
			assert.True(t, s.Contains(x), "%s sample %s outside space", s.Kind(), x)
		}
	}
}
