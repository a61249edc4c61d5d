package vectordb

import (
	"fmt"
	"sort"

	"school-copilot/utils"
)

// FlatIndex is an exact inner-product index over unit vectors. Rows are
// stored contiguously, row i at data[i*dim:(i+1)*dim].
type FlatIndex struct {
	dim  int
	data []float32
}

func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

func (f *FlatIndex) Dim() int { return f.dim }

func (f *FlatIndex) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends normalized copies of vectors
func (f *FlatIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, index has %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, utils.L2Normalize(v)...)
	}
	return nil
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search returns up to k (position, score) pairs in descending score order.
// Equal scores keep insertion order.
func (f *FlatIndex) Search(query []float32, k int) ([]int, []float32) {
	n := f.Len()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	q := utils.L2Normalize(query)
	scores := make([]float32, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		scores[i] = utils.Dot(q, f.row(i))
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	positions := order[:k]
	out := make([]float32, k)
	for i, p := range positions {
		out[i] = scores[p]
	}
	return positions, out
}

// Without returns a new index holding every row whose position is not in drop
func (f *FlatIndex) Without(drop map[int]struct{}) *FlatIndex {
	rebuilt := &FlatIndex{dim: f.dim, data: make([]float32, 0, len(f.data))}
	for i := 0; i < f.Len(); i++ {
		if _, ok := drop[i]; ok {
			continue
		}
		rebuilt.data = append(rebuilt.data, f.row(i)...)
	}
	return rebuilt
}
