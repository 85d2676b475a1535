package engine

import "github.com/relgo/dbkernel/internal/storage"

// JoinEdge declares that two tables can be joined on a field, used as
// input to OptimizeJoinOrder.
type JoinEdge struct {
	Left, Right string
	Op          storage.Op
}

// TableInfo pairs a table name with the statistics a one-pass scan
// collected for it.
type TableInfo struct {
	Name  string
	Stats *TableStats
}

type joinPlan struct {
	cost  float64
	card  float64
	order []string
	cross bool // some step of order joined a table with no declared edge
}

type edgeInfo struct {
	other int
	equi  bool
}

// OptimizeJoinOrder enumerates left-deep join orders over tables via a
// Selinger-style subset DP, memoizing the best (cost, cardinality) plan
// for every subset of tables (§4.7). Returns the winning left-deep order,
// its estimated total cost, and its estimated output cardinality.
func OptimizeJoinOrder(tables []TableInfo, edges []JoinEdge) (order []string, cost float64, card float64) {
	n := len(tables)
	if n == 0 {
		return nil, 0, 0
	}
	idx := make(map[string]int, n)
	for i, t := range tables {
		idx[t.Name] = i
	}

	adj := make([][]edgeInfo, n)
	for _, e := range edges {
		li, lok := idx[e.Left]
		ri, rok := idx[e.Right]
		if !lok || !rok {
			continue
		}
		equi := e.Op == storage.OpEquals
		adj[li] = append(adj[li], edgeInfo{other: ri, equi: equi})
		adj[ri] = append(adj[ri], edgeInfo{other: li, equi: equi})
	}

	best := make(map[uint64]*joinPlan)
	for i, t := range tables {
		mask := uint64(1) << uint(i)
		best[mask] = &joinPlan{cost: t.Stats.IOCost(), card: float64(t.Stats.NumTups), order: []string{t.Name}}
	}

	full := uint64(1)<<uint(n) - 1
	for size := 2; size <= n; size++ {
		for mask := uint64(1); mask <= full; mask++ {
			if popcount(mask) != size {
				continue
			}
			best[mask] = bestPlanFor(tables, adj, best, mask, true)
			if best[mask] == nil {
				best[mask] = bestPlanFor(tables, adj, best, mask, false)
			}
		}
	}

	fp := best[full]
	if fp == nil {
		return nil, 0, 0
	}
	return fp.order, fp.cost, fp.card
}

// bestPlanFor finds the cheapest way to extend some (size-1)-subset of
// mask by its missing table. requireEdge restricts the search to
// extensions joined by a declared edge onto a prefix that itself contains
// no cartesian step, avoiding a cartesian product unless no such
// extension exists for any table in mask.
func bestPlanFor(tables []TableInfo, adj [][]edgeInfo, best map[uint64]*joinPlan, mask uint64, requireEdge bool) *joinPlan {
	var bestPlan *joinPlan
	for i := range tables {
		bit := uint64(1) << uint(i)
		if mask&bit == 0 {
			continue
		}
		prevMask := mask &^ bit
		prev, ok := best[prevMask]
		if !ok {
			continue
		}

		connected, equi := false, false
		for _, e := range adj[i] {
			if prevMask&(uint64(1)<<uint(e.other)) != 0 {
				connected = true
				if e.equi {
					equi = true
				}
				break
			}
		}
		if requireEdge && (!connected || prev.cross) {
			continue
		}

		t := tables[i]
		newCost := prev.cost + prev.card*t.Stats.IOCost()
		var newCard float64
		if equi {
			sel := 1.0
			if t.Stats.NumTups > 0 {
				sel = 1.0 / float64(t.Stats.NumTups)
			}
			m := prev.card
			if float64(t.Stats.NumTups) < m {
				m = float64(t.Stats.NumTups)
			}
			newCard = m * sel
		} else {
			newCard = prev.card * float64(t.Stats.NumTups)
		}

		order := append(append([]string{}, prev.order...), t.Name)
		if bestPlan == nil || newCost < bestPlan.cost {
			bestPlan = &joinPlan{cost: newCost, card: newCard, order: order, cross: prev.cross || !connected}
		}
	}
	return bestPlan
}

func popcount(x uint64) int {
	c := 0
	for x != 0 {
		c += int(x & 1)
		x >>= 1
	}
	return c
}
