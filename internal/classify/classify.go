// Package classify partitions a scope of values into ordered quantile classes.
package classify

import (
	"math"
	"sort"
)

// Classes is the number of levels per axis.
const Classes = 9

// Method records how an edge table was built.
type Method string

// Edge table construction methods.
const (
	MethodQuantile Method = "quantile"
	MethodRank     Method = "rank"
	MethodEmpty    Method = "empty"
)

// Range is the observed [Min, Max] of the values assigned to Level.
// Empty levels report Min = Max = 0.
type Range struct {
	Level int     `json:"level"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// EdgeTable holds the inclusive upper edge of each level for one scope.
type EdgeTable struct {
	Edges  []float64
	Method Method
}

// NewEdgeTable builds the edge table for values. Interpolated quantile cut
// points are used when they are strictly increasing; otherwise edges are taken
// by rank from the sorted values.
func NewEdgeTable(values []float64, k int) EdgeTable {
	if k < 1 {
		k = Classes
	}
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return EdgeTable{Edges: make([]float64, k), Method: MethodEmpty}
	}
	sort.Float64s(sorted)

	if edges, ok := quantileEdges(sorted, k); ok {
		return EdgeTable{Edges: edges, Method: MethodQuantile}
	}
	return EdgeTable{Edges: rankEdges(sorted, k), Method: MethodRank}
}

// quantileEdges interpolates linearly between order statistics at
// probabilities 1/k .. k/k. ok is false when the edges, together with the
// minimum, do not strictly increase.
func quantileEdges(sorted []float64, k int) ([]float64, bool) {
	n := len(sorted)
	if distinct(sorted) < k {
		return nil, false
	}
	edges := make([]float64, k)
	prev := sorted[0]
	for i := 0; i < k; i++ {
		pos := float64(i+1) * float64(n-1) / float64(k)
		lo := int(math.Floor(pos))
		hi := lo + 1
		if hi >= n {
			edges[i] = sorted[n-1]
		} else {
			frac := pos - float64(lo)
			edges[i] = sorted[lo] + frac*(sorted[hi]-sorted[lo])
		}
		if edges[i] <= prev {
			return nil, false
		}
		prev = edges[i]
	}
	edges[k-1] = sorted[n-1]
	return edges, true
}

func rankEdges(sorted []float64, k int) []float64 {
	n := len(sorted)
	edges := make([]float64, k)
	for l := 0; l < k; l++ {
		idx := (l+1)*n/k - 1
		if idx < 0 {
			idx = 0
		}
		edges[l] = sorted[idx]
	}
	return edges
}

func distinct(sorted []float64) int {
	if len(sorted) == 0 {
		return 0
	}
	d := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			d++
		}
	}
	return d
}

// Level returns the first level whose upper edge is >= v, or the top level.
func (t EdgeTable) Level(v float64) int {
	if len(t.Edges) == 0 || t.Method == MethodEmpty {
		return 0
	}
	for i, e := range t.Edges {
		if v <= e {
			return i
		}
	}
	return len(t.Edges) - 1
}

// Result is the classification of one scope.
type Result struct {
	Levels []int
	Ranges []Range
	Table  EdgeTable
}

// Classify assigns a level to every value (in input order) and reports the
// observed range of each level. Exactly k ranges are always returned.
func Classify(values []float64, k int) Result {
	if k < 1 {
		k = Classes
	}
	table := NewEdgeTable(values, k)
	res := Result{
		Levels: make([]int, len(values)),
		Table:  table,
	}

	ranges := make([]Range, k)
	seen := make([]bool, k)
	for i := range ranges {
		ranges[i].Level = i
	}
	for i, v := range values {
		l := table.Level(v)
		res.Levels[i] = l
		if math.IsNaN(v) {
			continue
		}
		if !seen[l] {
			ranges[l].Min, ranges[l].Max = v, v
			seen[l] = true
			continue
		}
		ranges[l].Min = math.Min(ranges[l].Min, v)
		ranges[l].Max = math.Max(ranges[l].Max, v)
	}
	res.Ranges = ranges
	return res
}

// EmptyRanges returns k placeholder ranges.
func EmptyRanges(k int) []Range {
	if k < 1 {
		k = Classes
	}
	out := make([]Range, k)
	for i := range out {
		out[i].Level = i
	}
	return out
}
