// Package adminkey canonicalizes administrative (county, district, region) names
// and resolves lookups against the set of keys present in a dataset.
package adminkey

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/choropleth/internal/model"
)

// DefaultAliases folds character variants that differ between the geometry and
// statistics publications.
var DefaultAliases = map[string]string{
	"台": "臺",
}

// Canonicalizer normalizes name components before they are joined into a key.
type Canonicalizer struct {
	replacer *strings.Replacer
}

// NewCanonicalizer builds a Canonicalizer applying the given character aliases
// after NFKC normalization. A nil map applies no aliases.
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	if len(aliases) == 0 {
		return &Canonicalizer{}
	}
	from := make([]string, 0, len(aliases))
	for k := range aliases {
		from = append(from, k)
	}
	sort.Strings(from) // deterministic replacer order
	pairs := make([]string, 0, len(aliases)*2)
	for _, k := range from {
		pairs = append(pairs, k, aliases[k])
	}
	return &Canonicalizer{replacer: strings.NewReplacer(pairs...)}
}

// Name canonicalizes a single name component.
func (c *Canonicalizer) Name(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	if c != nil && c.replacer != nil {
		s = c.replacer.Replace(s)
	}
	return s
}

// Key canonicalizes all three components.
func (c *Canonicalizer) Key(county, district, region string) model.Key {
	return model.Key{
		County:   c.Name(county),
		District: c.Name(district),
		Region:   c.Name(region),
	}
}

type countyRegion struct {
	county string
	region string
}

// Index is a read-only set of keys supporting exact and partial lookups.
type Index struct {
	canon     *Canonicalizer
	exact     map[model.Key]struct{}
	districts map[countyRegion][]string
	byRegion  map[string][]model.Key
	exactOnly bool
}

// Option configures an Index.
type Option func(*Index)

// WithExactOnly disables the district-drift fallback in Resolve.
func WithExactOnly(exactOnly bool) Option {
	return func(ix *Index) { ix.exactOnly = exactOnly }
}

// NewIndex builds an Index over keys. Keys must already be canonical.
func NewIndex(canon *Canonicalizer, keys []model.Key, opts ...Option) *Index {
	ix := &Index{
		canon:     canon,
		exact:     make(map[model.Key]struct{}, len(keys)),
		districts: make(map[countyRegion][]string),
		byRegion:  make(map[string][]model.Key),
	}
	for _, o := range opts {
		o(ix)
	}
	for _, k := range keys {
		if _, dup := ix.exact[k]; dup {
			continue
		}
		ix.exact[k] = struct{}{}
		cr := countyRegion{county: k.County, region: k.Region}
		ix.districts[cr] = append(ix.districts[cr], k.District)
		ix.byRegion[k.Region] = append(ix.byRegion[k.Region], k)
	}
	return ix
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int { return len(ix.exact) }

// Contains reports whether the canonical key is present.
func (ix *Index) Contains(k model.Key) bool {
	_, ok := ix.exact[k]
	return ok
}

// Resolve looks up a key by exact match, then applies the district-drift
// fallback unless the index is exact-only.
func (ix *Index) Resolve(county, district, region string) (model.Key, bool) {
	k := ix.canon.Key(county, district, region)
	if ix.Contains(k) {
		return k, true
	}
	if ix.exactOnly {
		return model.Key{}, false
	}
	alt, ok := ResolveDistrictDrift(k.District, ix.districts[countyRegion{county: k.County, region: k.Region}])
	if !ok {
		return model.Key{}, false
	}
	return model.Key{County: k.County, District: alt, Region: k.Region}, true
}

// Match returns every key for region within county, across all districts.
func (ix *Index) Match(county, region string) []model.Key {
	c, r := ix.canon.Name(county), ix.canon.Name(region)
	var out []model.Key
	for _, d := range ix.districts[countyRegion{county: c, region: r}] {
		out = append(out, model.Key{County: c, District: d, Region: r})
	}
	return out
}

// MatchRegion returns every key with the given region name.
func (ix *Index) MatchRegion(region string) []model.Key {
	src := ix.byRegion[ix.canon.Name(region)]
	out := make([]model.Key, len(src))
	copy(out, src)
	return out
}

// ResolveDistrictDrift picks the substitute district for a lookup miss. It
// succeeds only when candidates hold exactly one district different from
// requested; with none or several alternatives it reports a miss.
func ResolveDistrictDrift(requested string, candidates []string) (string, bool) {
	var alt string
	n := 0
	for _, d := range candidates {
		if d == requested {
			continue
		}
		if n > 0 && d == alt {
			continue
		}
		alt = d
		n++
	}
	if n != 1 {
		return "", false
	}
	return alt, true
}
