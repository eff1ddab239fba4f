// Package taxonomy holds the classification taxonomy as data, not code.
// The valid (family, indicator_type) pairs, the temporal aggregation set
// and the orientation set are loaded from an embedded YAML table at
// startup and may be overridden by a workspace file, so types can be
// added without recompiling the pipeline.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"econoclass/internal/types"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// familyEntry is one family's row in the taxonomy file.
type familyEntry struct {
	Name          string   `yaml:"name"`
	Placeholder   string   `yaml:"placeholder"`
	Types         []string `yaml:"types"`
	MinConfidence *float64 `yaml:"min_confidence,omitempty"`
}

// document is the on-disk shape of a taxonomy file.
type document struct {
	Families             []familyEntry `yaml:"families"`
	TemporalAggregations []string      `yaml:"temporal_aggregations"`
	Orientations         []string      `yaml:"orientations"`
}

// Taxonomy is the loaded, validated taxonomy.
type Taxonomy struct {
	mu            sync.RWMutex
	familiesOrder []types.Family
	typesByFamily map[types.Family][]string
	typeSet       map[types.Family]map[string]bool
	placeholder   map[types.Family]string
	minConfidence map[types.Family]float64
	temporalSet   map[types.TemporalAggregation]bool
	orientSet     map[types.Orientation]bool
}

// Load returns the taxonomy built from the embedded defaults.
func Load() (*Taxonomy, error) {
	return parse(defaultsYAML)
}

// LoadFile loads a taxonomy override from path. An empty path falls back
// to the embedded defaults.
func LoadFile(path string) (*Taxonomy, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(doc.Families) == 0 {
		return nil, fmt.Errorf("taxonomy declares no families")
	}

	t := &Taxonomy{
		typesByFamily: make(map[types.Family][]string),
		typeSet:       make(map[types.Family]map[string]bool),
		placeholder:   make(map[types.Family]string),
		minConfidence: make(map[types.Family]float64),
		temporalSet:   make(map[types.TemporalAggregation]bool),
		orientSet:     make(map[types.Orientation]bool),
	}

	for _, fe := range doc.Families {
		fam := types.Family(fe.Name)
		if len(fe.Types) == 0 {
			return nil, fmt.Errorf("family %s declares no indicator types", fe.Name)
		}
		set := make(map[string]bool, len(fe.Types))
		for _, ty := range fe.Types {
			set[ty] = true
		}
		if fe.Placeholder == "" {
			return nil, fmt.Errorf("family %s declares no placeholder type", fe.Name)
		}
		if !set[fe.Placeholder] {
			return nil, fmt.Errorf("family %s placeholder %q is not in its type set", fe.Name, fe.Placeholder)
		}
		t.familiesOrder = append(t.familiesOrder, fam)
		t.typesByFamily[fam] = append([]string(nil), fe.Types...)
		t.typeSet[fam] = set
		t.placeholder[fam] = fe.Placeholder
		if fe.MinConfidence != nil {
			if *fe.MinConfidence < 0 || *fe.MinConfidence > 1 {
				return nil, fmt.Errorf("family %s min_confidence %.2f outside [0,1]", fe.Name, *fe.MinConfidence)
			}
			t.minConfidence[fam] = *fe.MinConfidence
		}
	}

	for _, ta := range doc.TemporalAggregations {
		t.temporalSet[types.TemporalAggregation(ta)] = true
	}
	for _, o := range doc.Orientations {
		t.orientSet[types.Orientation(o)] = true
	}
	if len(t.temporalSet) == 0 {
		return nil, fmt.Errorf("taxonomy declares no temporal aggregations")
	}
	if len(t.orientSet) == 0 {
		return nil, fmt.Errorf("taxonomy declares no orientations")
	}
	return t, nil
}

// Families returns the declared families in file order.
func (t *Taxonomy) Families() []types.Family {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.Family(nil), t.familiesOrder...)
}

// ValidFamily reports whether f is declared.
func (t *Taxonomy) ValidFamily(f types.Family) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.typeSet[f]
	return ok
}

// ValidType reports whether (family, indicatorType) is a declared pair.
func (t *Taxonomy) ValidType(f types.Family, indicatorType string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.typeSet[f]
	return ok && set[indicatorType]
}

// ValidTemporal reports whether ta is a declared temporal aggregation.
func (t *Taxonomy) ValidTemporal(ta types.TemporalAggregation) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.temporalSet[ta]
}

// ValidOrientation reports whether o is a declared orientation.
func (t *Taxonomy) ValidOrientation(o types.Orientation) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.orientSet[o]
}

// TypesFor returns the indicator types declared for family f.
func (t *Taxonomy) TypesFor(f types.Family) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.typesByFamily[f]...)
}

// PlaceholderType returns the most generic type of family f, used when a
// specialist fails irrecoverably so downstream stages can still run.
func (t *Taxonomy) PlaceholderType(f types.Family) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.placeholder[f]
}

// MinConfidence returns the per-family confidence minimum if declared,
// otherwise fallback. The per-family override wins when both apply.
func (t *Taxonomy) MinConfidence(f types.Family, fallback float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.minConfidence[f]; ok {
		return v
	}
	return fallback
}
