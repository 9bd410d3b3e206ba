package model

// IncomeRecord holds village-level household income statistics for one year.
type IncomeRecord struct {
	Key    Key     `json:"key"`
	Year   int     `json:"year"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Total  float64 `json:"total"`
}

// PopulationRecord is a household/population snapshot for one (year, month).
type PopulationRecord struct {
	Key        Key `json:"key"`
	Year       int `json:"year"`
	Month      int `json:"month"`
	Households int `json:"households"`
	Population int `json:"population"`
}

// After reports whether r is a strictly later snapshot than other.
func (r PopulationRecord) After(other PopulationRecord) bool {
	if r.Year != other.Year {
		return r.Year > other.Year
	}
	return r.Month > other.Month
}

// AttributeRecord is the per-query join of a region's geometry with its latest
// income and population figures. Nil fields mean the value is absent.
type AttributeRecord struct {
	Key               Key
	AreaKM2           float64
	MedianIncome      *float64
	IncomeYear        int
	Population        *int
	PopulationYear    int
	PopulationMonth   int
	PopulationDensity *float64
}

// HasIncome reports whether a median income value was joined.
func (r AttributeRecord) HasIncome() bool { return r.MedianIncome != nil }

// HasDensity reports whether a population density value could be derived.
func (r AttributeRecord) HasDensity() bool { return r.PopulationDensity != nil }
