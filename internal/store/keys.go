package store

import (
	"cmp"
	"slices"

	"kasirinaja/poscore/internal/domain"
)

// SortedStockKeys returns the distinct keys in (store, product) order, the
// order in which stock rows are locked.
func SortedStockKeys(keys []domain.StockKey) []domain.StockKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b domain.StockKey) int {
		if c := cmp.Compare(a.StoreID, b.StoreID); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return slices.Compact(out)
}
