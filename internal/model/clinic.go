package model

import "math"

// Clinic is one row of the clinic registry. Specialty is the registry's raw,
// comma separated department list.
type Clinic struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	County    string  `json:"county"`
	Specialty string  `json:"specialty"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
}

// Located reports whether the clinic has a usable coordinate. The registry
// writes 0 for unknown positions.
func (c Clinic) Located() bool {
	for _, v := range []float64{c.Lon, c.Lat} {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
