package ingest

import (
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
)

// rocEpoch converts Republic of China calendar years to Gregorian.
const rocEpoch = 1911

var (
	leadingYear = regexp.MustCompile(`^(\d{4})`)
	rocPeriod   = regexp.MustCompile(`(\d{3})(\d{2})`)
)

// IncomeYear parses the Gregorian year from a file name such as
// "2022_standardized.csv".
func IncomeYear(path string) (int, error) {
	m := leadingYear.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, eris.Errorf("ingest: no year in file name %q", filepath.Base(path))
	}
	y, _ := strconv.Atoi(m[1])
	return y, nil
}

// PopulationPeriod parses the year and month from a household registry file
// name such as "opendata11206_standardized.csv" (ROC year 112, June).
func PopulationPeriod(path string) (year, month int, err error) {
	m := rocPeriod.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, 0, eris.Errorf("ingest: no ROC year/month in file name %q", filepath.Base(path))
	}
	roc, _ := strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, 0, eris.Errorf("ingest: invalid month %d in file name %q", month, filepath.Base(path))
	}
	return roc + rocEpoch, month, nil
}
