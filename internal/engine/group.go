package engine

import (
	"slices"

	"github.com/roach88/offsync/internal/ir"
)

// partition splits pending actions into dispatch groups.
//
// With entityOrder, actions sharing an entity key form one group sorted by
// created_at; groups are ordered by their first appearance in pending.
// Without it, each action is its own group in pending order.
func partition(pending []ir.Action, entityOrder bool) [][]ir.Action {
	if !entityOrder {
		groups := make([][]ir.Action, len(pending))
		for i, a := range pending {
			groups[i] = []ir.Action{a}
		}
		return groups
	}

	index := make(map[string]int)
	var groups [][]ir.Action
	for _, a := range pending {
		key := a.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}

	for _, g := range groups {
		slices.SortStableFunc(g, func(x, y ir.Action) int {
			return x.CreatedAt.Compare(y.CreatedAt)
		})
	}
	return groups
}
