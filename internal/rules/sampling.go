package rules

import "sort"

// RandomSource yields uniform draws in [0, 1). *math/rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// WeightedTable is a cumulative-weight table answering one draw per pick.
// Weights are relative and need not sum to 1.
type WeightedTable[T any] struct {
	items []T
	cum   []float64
	total float64
}

func NewWeightedTable[T any](items []T, weight func(T) float64) WeightedTable[T] {
	t := WeightedTable[T]{
		items: append([]T(nil), items...),
		cum:   make([]float64, len(items)),
	}
	for i, it := range items {
		w := weight(it)
		if w > 0 {
			t.total += w
		}
		t.cum[i] = t.total
	}
	return t
}

// UniformTable gives every item the same weight.
func UniformTable[T any](items []T) WeightedTable[T] {
	return NewWeightedTable(items, func(T) float64 { return 1 })
}

func (t WeightedTable[T]) Len() int { return len(t.items) }

// Pick draws once from src. When the draw lands past every bucket (rounding,
// or all weights zero) the last item is returned.
func (t WeightedTable[T]) Pick(src RandomSource) (T, bool) {
	var zero T
	if len(t.items) == 0 {
		return zero, false
	}
	r := src.Float64() * t.total
	i := sort.Search(len(t.cum), func(i int) bool { return r < t.cum[i] })
	if i >= len(t.items) {
		i = len(t.items) - 1
	}
	return t.items[i], true
}
