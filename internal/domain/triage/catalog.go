package triage

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// CompareOp is the comparison a Condition applies.
type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
)

// Condition compares one vital sign against a threshold.
type Condition struct {
	Field VitalField `yaml:"field" json:"field"`
	Op    CompareOp  `yaml:"op" json:"op"`
	Value float64    `yaml:"value" json:"value"`
}

// Eval is false when the reading is unknown.
func (c Condition) Eval(v VitalSigns) bool {
	x, ok := v.Value(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGT:
		return x > c.Value
	case OpGTE:
		return x >= c.Value
	case OpLT:
		return x < c.Value
	case OpLTE:
		return x <= c.Value
	}
	return false
}

// Predicate combines conditions with "any" or "all".
type Predicate struct {
	Mode       string      `yaml:"mode" json:"mode"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Eval evaluates the predicate; unknown readings count as false.
func (p *Predicate) Eval(v VitalSigns) bool {
	if p == nil {
		return true
	}
	if p.Mode == "all" {
		for _, c := range p.Conditions {
			if !c.Eval(v) {
				return false
			}
		}
		return len(p.Conditions) > 0
	}
	for _, c := range p.Conditions {
		if c.Eval(v) {
			return true
		}
	}
	return false
}

// Protocol is one clinical rule of the catalog.
type Protocol struct {
	ID                 string     `yaml:"id" json:"id"`
	Name               string     `yaml:"name" json:"name"`
	Keywords           []string   `yaml:"keywords" json:"keywords"`
	MinKeywordHits     int        `yaml:"min_keyword_hits" json:"min_keyword_hits"`
	Vitals             *Predicate `yaml:"vitals,omitempty" json:"vitals,omitempty"`
	ClinicalCriteria   string     `yaml:"clinical_criteria" json:"clinical_criteria"`
	SuggestedDiagnoses []string   `yaml:"suggested_diagnoses" json:"suggested_diagnoses"`
	SuggestedConduct   string     `yaml:"suggested_conduct" json:"suggested_conduct"`
	SuggestedLevel     RiskLevel  `yaml:"suggested_level" json:"suggested_level"`
}

// VitalAlertRule raises an advisory alert when its predicate holds.
type VitalAlertRule struct {
	Message string    `yaml:"message" json:"message"`
	Level   RiskLevel `yaml:"level" json:"level"`
	When    Predicate `yaml:"when" json:"when"`
}

type catalogFile struct {
	RiskLevels  []RiskLevelInfo  `yaml:"risk_levels"`
	Protocols   []Protocol       `yaml:"protocols"`
	VitalAlerts []VitalAlertRule `yaml:"vital_alerts"`
}

// Catalog is the reference data loaded once at start: the risk table, the
// ordered protocols and the advisory vital-sign alerts.
type Catalog struct {
	Risk        *RiskTable
	protocols   []Protocol
	vitalAlerts []VitalAlertRule
}

// Protocols returns the protocols in evaluation order.
func (c *Catalog) Protocols() []Protocol {
	out := make([]Protocol, len(c.protocols))
	copy(out, c.protocols)
	return out
}

// Protocol looks up a protocol by id.
func (c *Catalog) Protocol(id string) (Protocol, bool) {
	for _, p := range c.protocols {
		if p.ID == id {
			return p, true
		}
	}
	return Protocol{}, false
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file, falling back to the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	risk, err := NewRiskTable(f.RiskLevels)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(f.Protocols))
	for i := range f.Protocols {
		p := &f.Protocols[i]
		if p.ID == "" {
			return nil, fmt.Errorf("protocol #%d has no id", i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate protocol %s", p.ID)
		}
		seen[p.ID] = true
		if len(p.Keywords) == 0 {
			return nil, fmt.Errorf("protocol %s has no keywords", p.ID)
		}
		if p.MinKeywordHits < 1 {
			return nil, fmt.Errorf("protocol %s: min_keyword_hits must be at least 1", p.ID)
		}
		if _, ok := risk.Info(p.SuggestedLevel); !ok {
			return nil, fmt.Errorf("protocol %s: unknown suggested_level %q", p.ID, p.SuggestedLevel)
		}
		for k, kw := range p.Keywords {
			p.Keywords[k] = normalizeText(kw)
		}
		if err := validatePredicate(p.Vitals); err != nil {
			return nil, fmt.Errorf("protocol %s: %w", p.ID, err)
		}
	}
	for i := range f.VitalAlerts {
		a := &f.VitalAlerts[i]
		if _, ok := risk.Info(a.Level); !ok {
			return nil, fmt.Errorf("vital alert #%d: unknown level %q", i+1, a.Level)
		}
		if err := validatePredicate(&a.When); err != nil {
			return nil, fmt.Errorf("vital alert #%d: %w", i+1, err)
		}
	}

	return &Catalog{Risk: risk, protocols: f.Protocols, vitalAlerts: f.VitalAlerts}, nil
}

func validatePredicate(p *Predicate) error {
	if p == nil {
		return nil
	}
	switch strings.ToLower(p.Mode) {
	case "", "any":
		p.Mode = "any"
	case "all":
		p.Mode = "all"
	default:
		return fmt.Errorf("unknown predicate mode %q", p.Mode)
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("vital predicate has no conditions")
	}
	return validateConditions(p.Conditions)
}

func validateConditions(cs []Condition) error {
	for _, c := range cs {
		switch c.Field {
		case FieldTemperature, FieldOxygenSaturation, FieldSystolic, FieldDiastolic,
			FieldHeartRate, FieldRespiratoryRate, FieldPainScale:
		default:
			return fmt.Errorf("unknown vital field %q", c.Field)
		}
		switch c.Op {
		case OpGT, OpGTE, OpLT, OpLTE:
		default:
			return fmt.Errorf("unknown operator %q", c.Op)
		}
	}
	return nil
}
