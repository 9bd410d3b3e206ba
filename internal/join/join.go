// Package join attaches the latest income and population figures to region
// geometries and derives population density.
package join

import (
	"math"

	"github.com/sells-group/choropleth/internal/model"
)

// Latest indexes the most recent income and population record per key.
type Latest struct {
	Income     map[model.Key]model.IncomeRecord
	Population map[model.Key]model.PopulationRecord
}

// NewLatest selects the latest year of income and the latest (year, month) of
// population per key. Records with non-finite or negative values are ignored.
func NewLatest(income []model.IncomeRecord, population []model.PopulationRecord) *Latest {
	l := &Latest{
		Income:     make(map[model.Key]model.IncomeRecord, len(income)),
		Population: make(map[model.Key]model.PopulationRecord, len(population)),
	}
	for _, r := range income {
		if !validAmount(r.Median) {
			continue
		}
		if cur, ok := l.Income[r.Key]; !ok || r.Year > cur.Year {
			l.Income[r.Key] = r
		}
	}
	for _, r := range population {
		if r.Population < 0 {
			continue
		}
		if cur, ok := l.Population[r.Key]; !ok || r.After(cur) {
			l.Population[r.Key] = r
		}
	}
	return l
}

// Record builds the attribute record for one geometry.
func (l *Latest) Record(g model.RegionGeometry) model.AttributeRecord {
	rec := model.AttributeRecord{
		Key:     g.Key,
		AreaKM2: g.AreaKM2,
	}
	if inc, ok := l.Income[g.Key]; ok {
		median := inc.Median
		rec.MedianIncome = &median
		rec.IncomeYear = inc.Year
	}
	if pop, ok := l.Population[g.Key]; ok {
		n := pop.Population
		rec.Population = &n
		rec.PopulationYear = pop.Year
		rec.PopulationMonth = pop.Month
		if g.AreaKM2 > 0 && validAmount(g.AreaKM2) {
			d := float64(n) / g.AreaKM2
			rec.PopulationDensity = &d
		}
	}
	return rec
}

// JoinOrdered returns one record per geometry, in geometry order.
func JoinOrdered(geometries []model.RegionGeometry, income []model.IncomeRecord, population []model.PopulationRecord) []model.AttributeRecord {
	return NewLatest(income, population).JoinOrdered(geometries)
}

// JoinOrdered joins geometries against the already-selected latest records.
func (l *Latest) JoinOrdered(geometries []model.RegionGeometry) []model.AttributeRecord {
	out := make([]model.AttributeRecord, 0, len(geometries))
	for _, g := range geometries {
		out = append(out, l.Record(g))
	}
	return out
}

// Join returns the joined records keyed by administrative key.
func Join(geometries []model.RegionGeometry, income []model.IncomeRecord, population []model.PopulationRecord) map[model.Key]model.AttributeRecord {
	l := NewLatest(income, population)
	out := make(map[model.Key]model.AttributeRecord, len(geometries))
	for _, g := range geometries {
		out[g.Key] = l.Record(g)
	}
	return out
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
