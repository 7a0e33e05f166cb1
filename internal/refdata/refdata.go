// Package refdata carries the embedded reference tables the report pipeline
// keys its data pulls on: sector profiles (which ETF proxies and which FRED
// and BLS series describe a sector) and US state FIPS codes for Census
// geography lookups.
package refdata

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed sectors.yaml
var sectorsYAML []byte

//go:embed states.yaml
var statesYAML []byte

// SectorProfile describes the data footprint of one business sector.
type SectorProfile struct {
	Name       string   `yaml:"name"`
	Aliases    []string `yaml:"aliases"`
	ETFSymbols []string `yaml:"etf_symbols"`
	FREDSeries []string `yaml:"fred_series"`
	BLSSeries  []string `yaml:"bls_series"`
}

type stateEntry struct {
	Name   string `yaml:"name"`
	Abbrev string `yaml:"abbrev"`
	FIPS   string `yaml:"fips"`
}

type tables struct {
	sectors       []SectorProfile
	defaultSector SectorProfile
	sectorIndex   map[string]int
	stateIndex    map[string]string
}

var (
	loadOnce sync.Once
	loaded   *tables
	loadErr  error
)

func load() (*tables, error) {
	loadOnce.Do(func() {
		var sdoc struct {
			Default SectorProfile   `yaml:"default"`
			Sectors []SectorProfile `yaml:"sectors"`
		}
		if err := yaml.Unmarshal(sectorsYAML, &sdoc); err != nil {
			loadErr = fmt.Errorf("refdata: sectors: %w", err)
			return
		}
		var stdoc struct {
			States []stateEntry `yaml:"states"`
		}
		if err := yaml.Unmarshal(statesYAML, &stdoc); err != nil {
			loadErr = fmt.Errorf("refdata: states: %w", err)
			return
		}

		t := &tables{
			sectors:       sdoc.Sectors,
			defaultSector: sdoc.Default,
			sectorIndex:   make(map[string]int),
			stateIndex:    make(map[string]string, len(stdoc.States)*2),
		}
		for i, s := range sdoc.Sectors {
			t.sectorIndex[normalize(s.Name)] = i
			for _, a := range s.Aliases {
				t.sectorIndex[normalize(a)] = i
			}
		}
		for _, st := range stdoc.States {
			t.stateIndex[normalize(st.Name)] = st.FIPS
			t.stateIndex[normalize(st.Abbrev)] = st.FIPS
		}
		loaded = t
	})
	return loaded, loadErr
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Lookup resolves reference data from the embedded tables. The zero value is
// unusable; construct with New.
type Lookup struct {
	t *tables
}

// New parses the embedded tables once and returns a Lookup over them.
func New() (*Lookup, error) {
	t, err := load()
	if err != nil {
		return nil, err
	}
	return &Lookup{t: t}, nil
}

// Sector returns the profile for the named sector, falling back to the
// default profile for unknown sectors. The second return reports whether the
// sector matched an entry.
func (l *Lookup) Sector(name string) (SectorProfile, bool) {
	if i, ok := l.t.sectorIndex[normalize(name)]; ok {
		return l.t.sectors[i], true
	}
	return l.t.defaultSector, false
}

// Sectors lists all known sector profiles.
func (l *Lookup) Sectors() []SectorProfile {
	return l.t.sectors
}

// StateFIPS maps a state name or USPS abbreviation to its FIPS code.
func (l *Lookup) StateFIPS(state string) (string, bool) {
	code, ok := l.t.stateIndex[normalize(state)]
	return code, ok
}
