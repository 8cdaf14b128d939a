package book

import (
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/rickgao/marketsync/internal/model"
)

// DepthLevel is one published level annotated with cumulative size from
// the best price through this level.
type DepthLevel struct {
	Price      float64
	Size       float64
	Cumulative float64
}

// SortedLevels maintains one side of an order book as a price-ordered
// sequence. Bids are kept descending, asks ascending, so index 0 is always
// the best price. Not safe for concurrent use; Book serializes access.
type SortedLevels struct {
	side   model.Side
	levels []model.PriceLevel
	// cum caches cumulative sizes for the prefix [0, cleanLen). An upsert
	// invalidates from the changed index outward; readers recompute only
	// up to the depth they ask for, never the whole book.
	cum      []float64
	cleanLen int
}

// NewSortedLevels creates an empty side.
func NewSortedLevels(side model.Side) *SortedLevels {
	return &SortedLevels{side: side}
}

// Len returns the number of tracked levels.
func (s *SortedLevels) Len() int {
	return len(s.levels)
}

// BestPrice returns the price at index 0 (highest bid or lowest ask).
func (s *SortedLevels) BestPrice() (float64, bool) {
	if len(s.levels) == 0 {
		return 0, false
	}
	return s.levels[0].Price, true
}

// Upsert inserts a new level, updates an existing one, or removes it when
// size is zero. Updates outside the currently tracked depth are applied
// too, so later depth expansions stay correct. Malformed input is rejected
// without touching the structure.
func (s *SortedLevels) Upsert(price, size float64) error {
	if !model.IsFinite(price) || price <= 0 {
		return fmt.Errorf("%s upsert: invalid price %v", s.side, price)
	}
	if !model.IsFinite(size) || size < 0 {
		return fmt.Errorf("%s upsert: invalid size %v", s.side, size)
	}

	idx, found := s.search(price)

	switch {
	case found && size == 0:
		s.levels = slices.Delete(s.levels, idx, idx+1)
		s.cum = slices.Delete(s.cum, idx, idx+1)
	case found:
		s.levels[idx].Size = size
	case size == 0:
		// Removal of an untracked level: nothing to do.
		return nil
	default:
		s.levels = slices.Insert(s.levels, idx, model.PriceLevel{Price: price, Size: size})
		s.cum = slices.Insert(s.cum, idx, 0)
	}

	if idx < s.cleanLen {
		s.cleanLen = idx
	}
	return nil
}

// search finds the index where price belongs, best-first order.
// Returns (index, true) when the level already exists.
func (s *SortedLevels) search(price float64) (int, bool) {
	var idx int
	if s.side == model.Bid {
		idx = sort.Search(len(s.levels), func(i int) bool {
			return s.levels[i].Price <= price
		})
	} else {
		idx = sort.Search(len(s.levels), func(i int) bool {
			return s.levels[i].Price >= price
		})
	}
	if idx < len(s.levels) && s.levels[idx].Price == price {
		return idx, true
	}
	return idx, false
}

// All returns a finite, restartable iteration over the top-depth levels
// from the best price outward, each annotated with cumulative size.
// depth <= 0 means the whole side.
func (s *SortedLevels) All(depth int) iter.Seq[DepthLevel] {
	return func(yield func(DepthLevel) bool) {
		n := len(s.levels)
		if depth > 0 && depth < n {
			n = depth
		}
		s.fillCumulative(n)
		for i := 0; i < n; i++ {
			dl := DepthLevel{
				Price:      s.levels[i].Price,
				Size:       s.levels[i].Size,
				Cumulative: s.cum[i],
			}
			if !yield(dl) {
				return
			}
		}
	}
}

// Snapshot materializes All(depth) into a fresh slice.
func (s *SortedLevels) Snapshot(depth int) []DepthLevel {
	n := len(s.levels)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]DepthLevel, 0, n)
	for dl := range s.All(depth) {
		out = append(out, dl)
	}
	return out
}

// fillCumulative extends the cached cumulative prefix to n entries.
func (s *SortedLevels) fillCumulative(n int) {
	for i := s.cleanLen; i < n; i++ {
		prev := 0.0
		if i > 0 {
			prev = s.cum[i-1]
		}
		s.cum[i] = prev + s.levels[i].Size
	}
	if n > s.cleanLen {
		s.cleanLen = n
	}
}
