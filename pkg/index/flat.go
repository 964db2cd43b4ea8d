// Package index holds the nearest-neighbor index over embedded chunks and
// the chunk list aligned with it.
package index

import (
	"fmt"
	"sort"
)

// Flat is an exhaustive squared-L2 index. Vector i is the i-th vector added.
type Flat struct {
	dim  int
	data []float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors. All vectors must match the index dimension; nothing
// is added if any does not.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d: dimension %d, index expects %d", i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Clone returns an independent copy.
func (f *Flat) Clone() *Flat {
	data := make([]float32, len(f.data))
	copy(data, f.data)
	return &Flat{dim: f.dim, data: data}
}

// Vector returns a view of the i-th vector.
func (f *Flat) Vector(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search returns up to k nearest vectors to q, nearest first. Equal distances
// keep insertion order. Returned indices are always in [0, Len()).
func (f *Flat) Search(q []float32, k int) (distances []float32, indices []int, err error) {
	if len(q) != f.dim {
		return nil, nil, fmt.Errorf("query dimension %d, index expects %d", len(q), f.dim)
	}
	n := f.Len()
	if k <= 0 || n == 0 {
		return nil, nil, nil
	}

	ranked := Rank(q, n, f.Vector)
	k = min(k, n)
	distances = make([]float32, k)
	indices = make([]int, k)
	for i := range k {
		distances[i] = ranked[i].Distance
		indices[i] = ranked[i].Index
	}
	return distances, indices, nil
}

// Hit pairs a position with its distance to a query.
type Hit struct {
	Index    int
	Distance float32
}

// Rank computes the distance from q to each of n vectors and returns them
// sorted ascending, ties in original order.
func Rank(q []float32, n int, vector func(i int) []float32) []Hit {
	hits := make([]Hit, n)
	for i := range n {
		hits[i] = Hit{Index: i, Distance: SquaredL2(q, vector(i))}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})
	return hits
}

// SquaredL2 is the squared Euclidean distance. Vectors must have equal length.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
