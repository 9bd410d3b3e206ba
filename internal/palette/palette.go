// Package palette blends the income and density colour ramps into a single
// bivariate colour.
package palette

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidWeights is returned for negative or NaN axis weights.
var ErrInvalidWeights = eris.New("palette: invalid weights")

// Levels is the number of colours per ramp.
const Levels = 9

// Neutral is returned when both weights are zero.
const Neutral = "#f7f7f7"

// IncomeRamp runs from low to high income (reds).
var IncomeRamp = mustRamp(
	"#fee5d9", "#fcbba1", "#fc9272", "#fb6a4a", "#ef3b2c",
	"#cb181d", "#a50f15", "#67000d", "#4d0000",
)

// DensityRamp runs from low to high population density (blues).
var DensityRamp = mustRamp(
	"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6",
	"#4292c6", "#2171b5", "#08519c", "#08306b",
)

// RGB is an 8-bit colour.
type RGB struct {
	R, G, B uint8
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, eris.Errorf("palette: parse hex %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, eris.Wrapf(err, "palette: parse hex %q", s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Hex formats c as lowercase "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// halfEps absorbs the error of weight normalization so that exact halves
// round up whatever the weights' scale.
const halfEps = 1e-9

// Mix returns the per-channel weighted mean of a and b, rounded to the nearest
// integer with halves rounding up. Weights must be non-negative and not both
// zero; only their ratio matters.
func Mix(a, b RGB, wa, wb float64) RGB {
	if m := math.Max(wa, wb); m > 0 && !math.IsInf(m, 0) {
		wa, wb = wa/m, wb/m
	}
	sum := wa + wb
	na, nb := wa/sum, wb/sum
	ch := func(x, y uint8) uint8 {
		v := math.Round(float64(x)*na + float64(y)*nb + halfEps)
		return uint8(math.Max(0, math.Min(255, v)))
	}
	return RGB{R: ch(a.R, b.R), G: ch(a.G, b.G), B: ch(a.B, b.B)}
}

// Blend returns the bivariate colour for an (income, density) level pair.
// Levels outside [0, 8] are clamped.
func Blend(incomeLevel, densityLevel int, incomeWeight, densityWeight float64) (string, error) {
	if err := ValidateWeights(incomeWeight, densityWeight); err != nil {
		return "", err
	}
	if incomeWeight == 0 && densityWeight == 0 {
		return Neutral, nil
	}
	a := IncomeRamp[clampLevel(incomeLevel)]
	b := DensityRamp[clampLevel(densityLevel)]
	return Mix(a, b, incomeWeight, densityWeight).Hex(), nil
}

// Matrix returns the full 9x9 grid; cell [i][d] is Blend(i, d, wi, wd).
func Matrix(incomeWeight, densityWeight float64) ([Levels][Levels]string, error) {
	var m [Levels][Levels]string
	if err := ValidateWeights(incomeWeight, densityWeight); err != nil {
		return m, err
	}
	for i := 0; i < Levels; i++ {
		for d := 0; d < Levels; d++ {
			c, err := Blend(i, d, incomeWeight, densityWeight)
			if err != nil {
				return m, err
			}
			m[i][d] = c
		}
	}
	return m, nil
}

// ValidateWeights rejects negative, NaN or infinite weights.
func ValidateWeights(incomeWeight, densityWeight float64) error {
	for _, w := range []float64{incomeWeight, densityWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return eris.Wrapf(ErrInvalidWeights, "income=%v density=%v", incomeWeight, densityWeight)
		}
	}
	return nil
}

func clampLevel(l int) int {
	if l < 0 {
		return 0
	}
	if l > Levels-1 {
		return Levels - 1
	}
	return l
}

func mustRamp(hexes ...string) [Levels]RGB {
	var out [Levels]RGB
	for i, h := range hexes {
		c, err := ParseHex(h)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}
