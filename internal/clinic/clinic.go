// Package clinic standardizes clinic departments and answers the per-county
// clinic marker queries.
package clinic

import (
	"sort"
	"strings"

	"github.com/sells-group/choropleth/internal/model"
)

// Standard specialty names that absorb several registry departments.
const (
	FamilyMedicine = "家庭醫學科"
	Aesthetics     = "醫美整形科"
	Other          = "其他"
)

// Specialty is a standardized department with its legend position and icon.
type Specialty struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
	Icon  string `json:"icon"`
}

const (
	otherOrder = 99
	otherIcon  = "🏥"
)

var catalog = map[string]Specialty{
	"耳鼻喉科": {Order: 1, Icon: "🔴"},
	FamilyMedicine: {Order: 2, Icon: "🏠"},
	"兒科": {Order: 3, Icon: "🍼"},
	"內科": {Order: 4, Icon: "💊"},
	Aesthetics: {Order: 5, Icon: "⭐"},
	"眼科": {Order: 6, Icon: "👁️"},
	"婦產科": {Order: 7, Icon: "♀️"},
	"泌尿科": {Order: 8, Icon: "♂️"},
	"復健科": {Order: 9, Icon: "💪"},
	"骨科": {Order: 10, Icon: "🦴"},
	"外科": {Order: 11, Icon: "✂️"},
	"神經科": {Order: 12, Icon: "🧠"},
	"精神科": {Order: 13, Icon: "🤗"},
	"牙科": {Order: 14, Icon: "🦷"},
	"中醫": {Order: 15, Icon: "🌿"},
	Other: {Order: otherOrder, Icon: otherIcon},
}

var merged = map[string]string{
	"家庭醫學科": FamilyMedicine,
	"西醫一般科": FamilyMedicine,
	"整形外科":  Aesthetics,
	"醫美整形":  Aesthetics,
	"皮膚科":   Aesthetics,
}

// Kept as their own specialty.
var direct = map[string]bool{
	"牙科": true, "中醫": true, "眼科": true, "耳鼻喉科": true, "骨科": true,
	"內科": true, "外科": true, "婦產科": true, "兒科": true, "精神科": true,
	"神經科": true, "復健科": true, "泌尿科": true,
}

// Departments containing one of these are support or diagnostic units and
// are dropped instead of being counted as Other.
var dropped = []string{"一般科", "診斷科", "腫瘤科", "病理科", "醫學科", "麻醉科", "放射"}

// Describe returns the legend entry for a standardized name. Unknown names
// sort with Other.
func Describe(name string) Specialty {
	sp, ok := catalog[name]
	if !ok {
		sp = Specialty{Order: otherOrder, Icon: otherIcon}
	}
	sp.Name = name
	return sp
}

// Standardize maps a raw department list to standardized specialties in
// legend order, without duplicates.
func Standardize(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range splitList(raw) {
		name, ok := standardize(part)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sortSpecialties(out)
	return out
}

func standardize(dept string) (string, bool) {
	if m, ok := merged[dept]; ok {
		return m, true
	}
	if direct[dept] {
		return dept, true
	}
	for _, d := range dropped {
		if strings.Contains(dept, d) {
			return "", false
		}
	}
	return Other, true
}

// ParseFilter splits a comma separated specialty filter. Blank entries are
// ignored.
func ParseFilter(raw string) []string {
	return splitList(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '，' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortSpecialties(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, b := Describe(names[i]), Describe(names[j])
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
}

// Entry is a clinic with its standardized specialties.
type Entry struct {
	model.Clinic
	Specialties []string
}

// Set indexes located clinics by county. It is immutable once built.
type Set struct {
	byCounty    map[string][]Entry
	specialties []Specialty
	count       int
}

// NewSet standardizes and indexes clinics, keeping registry order within a
// county. Clinics without a usable coordinate are skipped.
func NewSet(clinics []model.Clinic) *Set {
	s := &Set{byCounty: make(map[string][]Entry)}
	seen := make(map[string]bool)
	for _, c := range clinics {
		if !c.Located() {
			continue
		}
		e := Entry{Clinic: c, Specialties: Standardize(c.Specialty)}
		s.byCounty[c.County] = append(s.byCounty[c.County], e)
		s.count++
		for _, sp := range e.Specialties {
			if !seen[sp] {
				seen[sp] = true
				s.specialties = append(s.specialties, Describe(sp))
			}
		}
	}
	sort.Slice(s.specialties, func(i, j int) bool {
		a, b := s.specialties[i], s.specialties[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	return s
}

// Len returns the number of indexed clinics.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Specialties lists the specialties present in the set in legend order.
func (s *Set) Specialties() []Specialty {
	if s == nil {
		return nil
	}
	return s.specialties
}

// InCounty returns the clinics of county offering at least one of want (all
// clinics when want is empty). Rows repeating a name and address are
// reported once, as their first matching row.
func (s *Set) InCounty(county string, want []string) []Entry {
	if s == nil {
		return nil
	}
	filter := make(map[string]bool, len(want))
	for _, w := range want {
		filter[w] = true
	}
	type id struct{ name, address string }
	seen := make(map[id]bool)
	var out []Entry
	for _, e := range s.byCounty[county] {
		if len(filter) > 0 && !offersAny(e.Specialties, filter) {
			continue
		}
		k := id{e.Name, e.Address}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func offersAny(have []string, want map[string]bool) bool {
	for _, h := range have {
		if want[h] {
			return true
		}
	}
	return false
}
