package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignment(t *testing.T) {
	a := Assigned(3)
	label, ok := a.Label()
	assert.True(t, ok)
	assert.Equal(t, 3, label)
	assert.Equal(t, 3, a.Int())
	assert.False(t, a.IsNoise())

	n := Noise()
	_, ok = n.Label()
	assert.False(t, ok)
	assert.Equal(t, NoiseLabel, n.Int())
	assert.True(t, n.IsNoise())

	assert.True(t, FromInt(-1).IsNoise())
	assert.True(t, Assigned(-5).IsNoise())
}

func TestLabeling_Counts(t *testing.T) {
	l := LabelingFromInts([]int{0, 0, 1, -1, 4, -1})

	assert.Equal(t, 3, l.ClusterCount())
	assert.Equal(t, 2, l.NoiseCount())
	assert.Equal(t, []int{0, 0, 1, -1, 4, -1}, l.Ints())
}

func TestLabeling_Canonical(t *testing.T) {
	tests := []struct {
		name     string
		input    []int
		expected []int
	}{
		{name: "already canonical", input: []int{0, 1, 1, 2}, expected: []int{0, 1, 1, 2}},
		{name: "renumbered by first appearance", input: []int{7, 3, 7, 9}, expected: []int{0, 1, 0, 2}},
		{name: "noise preserved", input: []int{-1, 5, -1, 2}, expected: []int{-1, 0, -1, 1}},
		{name: "empty", input: []int{}, expected: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LabelingFromInts(tt.input).Canonical()
			assert.Equal(t, tt.expected, got.Ints())
		})
	}
}

func TestAllNoise(t *testing.T) {
	l := AllNoise(3)
	assert.Equal(t, []int{-1, -1, -1}, l.Ints())
	assert.Equal(t, 0, l.ClusterCount())
}

func TestItem_Assignment(t *testing.T) {
	label := 2
	item := &Item{ID: 1, ClusterLabel: &label}
	assert.Equal(t, 2, item.Assignment().Int())

	item.ClusterLabel = nil
	assert.True(t, item.Assignment().IsNoise())
}

// TestEmbedding_Scan tests Embedding scanning.
func TestEmbedding_Scan(t *testing.T) {
	tests := []struct {
		input    interface{}
		name     string
		expected Embedding
		wantErr  bool
	}{
		{name: "nil input", input: nil, expected: nil},
		{name: "empty string", input: "", expected: nil},
		{name: "json array string", input: `[1, 0.5, -2]`, expected: Embedding{1, 0.5, -2}},
		{name: "json array bytes", input: []byte(`[0.25]`), expected: Embedding{0.25}},
		{name: "unsupported type", input: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Embedding
			err := e.Scan(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, e)
		})
	}
}

func TestEmbedding_Value(t *testing.T) {
	v, err := Embedding{1, 2.5}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[1,2.5]", v)

	v, err = Embedding(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	assert.Equal(t, []float64{1, 2.5}, Embedding{1, 2.5}.Float64())
}

func TestJSONInt64Array(t *testing.T) {
	var a JSONInt64Array
	require.NoError(t, a.Scan(`[3, 1, 2]`))
	assert.Equal(t, JSONInt64Array{3, 1, 2}, a)

	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "[3,1,2]", v)

	assert.Error(t, a.Scan(1.5))
}
