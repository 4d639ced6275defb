package models

// NoiseLabel is the wire value for an item that belongs to no cluster.
const NoiseLabel = -1

// Assignment is the per-item outcome of a clustering run: either assigned
// to a non-negative cluster label, or noise.
type Assignment struct {
	label    int
	assigned bool
}

// Assigned returns an assignment to the given cluster label.
// A negative label is treated as noise.
func Assigned(label int) Assignment {
	if label < 0 {
		return Noise()
	}
	return Assignment{label: label, assigned: true}
}

// Noise returns the unassigned outcome.
func Noise() Assignment {
	return Assignment{}
}

// FromInt converts a wire label (-1 for noise) to an Assignment.
func FromInt(label int) Assignment {
	return Assigned(label)
}

// Label returns the cluster label and whether the item is assigned.
func (a Assignment) Label() (int, bool) {
	return a.label, a.assigned
}

// IsNoise reports whether the assignment is noise.
func (a Assignment) IsNoise() bool {
	return !a.assigned
}

// Int returns the wire representation, -1 for noise.
func (a Assignment) Int() int {
	if !a.assigned {
		return NoiseLabel
	}
	return a.label
}

// Labeling is the ordered output of one clustering run, one entry per input item.
type Labeling []Assignment

// AllNoise returns a labeling of n noise entries.
func AllNoise(n int) Labeling {
	return make(Labeling, n)
}

// LabelingFromInts converts wire labels to a Labeling.
func LabelingFromInts(labels []int) Labeling {
	out := make(Labeling, len(labels))
	for i, l := range labels {
		out[i] = FromInt(l)
	}
	return out
}

// Ints returns the wire representation of the labeling.
func (l Labeling) Ints() []int {
	out := make([]int, len(l))
	for i, a := range l {
		out[i] = a.Int()
	}
	return out
}

// ClusterCount returns the number of distinct assigned labels.
func (l Labeling) ClusterCount() int {
	seen := make(map[int]struct{})
	for _, a := range l {
		if label, ok := a.Label(); ok {
			seen[label] = struct{}{}
		}
	}
	return len(seen)
}

// NoiseCount returns the number of noise entries.
func (l Labeling) NoiseCount() int {
	n := 0
	for _, a := range l {
		if a.IsNoise() {
			n++
		}
	}
	return n
}

// Canonical renumbers assigned labels 0..k-1 in order of first appearance.
// Noise entries are preserved.
func (l Labeling) Canonical() Labeling {
	remap := make(map[int]int)
	out := make(Labeling, len(l))
	for i, a := range l {
		label, ok := a.Label()
		if !ok {
			continue
		}
		next, seen := remap[label]
		if !seen {
			next = len(remap)
			remap[label] = next
		}
		out[i] = Assigned(next)
	}
	return out
}
