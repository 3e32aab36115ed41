// Package rules is the keyword table that supplies baseline production values
// before anything has been learned.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"techsheet/internal/domain"
	"techsheet/internal/features"
)

//go:embed default_rules.yaml
var defaultRules []byte

type Rule struct {
	Name        string                  `yaml:"name"`
	Keywords    []string                `yaml:"keywords"`
	Values      map[domain.Field]string `yaml:"values"`
	ThirdSunday map[domain.Field]string `yaml:"third_sunday"`
}

type Table struct {
	Rules   []Rule                  `yaml:"rules"`
	Default map[domain.Field]string `yaml:"default"`
}

type Engine struct {
	table Table
}

// Default returns the engine backed by the embedded table.
func Default() *Engine {
	e, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rule table: %v", err))
	}
	return e
}

// Load reads a rule table from path. An empty path selects the embedded table.
func Load(path string) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return e, nil
}

func Parse(data []byte) (*Engine, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	for i, r := range t.Rules {
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s) has no keywords", i, r.Name)
		}
		if err := checkFields(r.Values); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		if err := checkFields(r.ThirdSunday); err != nil {
			return nil, fmt.Errorf("rule %d (%s) third_sunday: %w", i, r.Name, err)
		}
		for j, kw := range r.Keywords {
			t.Rules[i].Keywords[j] = features.Normalize(kw)
		}
	}
	if err := checkFields(t.Default); err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	return &Engine{table: t}, nil
}

func checkFields(values map[domain.Field]string) error {
	for f := range values {
		if _, ok := domain.ParseField(string(f)); !ok {
			return fmt.Errorf("unknown field %q", f)
		}
	}
	return nil
}

// ApplyRules returns baseline values for the fields some rule covers. For
// each field the first matching rule that sets it wins; on a third Sunday
// that rule's third_sunday value takes precedence. Fields no rule covers
// take the table default, if any.
func (e *Engine) ApplyRules(itemText string, isThirdSunday bool) map[domain.Field]string {
	tokens := features.Tokens(itemText)
	out := make(map[domain.Field]string, len(domain.TechFields))
	for _, r := range e.table.Rules {
		if !matches(tokens, r.Keywords) {
			continue
		}
		for _, f := range domain.TechFields {
			if _, done := out[f]; done {
				continue
			}
			if v, ok := r.ThirdSunday[f]; ok && isThirdSunday {
				out[f] = v
			} else if v, ok := r.Values[f]; ok {
				out[f] = v
			}
		}
	}
	for f, v := range e.table.Default {
		if _, done := out[f]; !done {
			out[f] = v
		}
	}
	return out
}

// Rules lists rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.table.Rules))
	for _, r := range e.table.Rules {
		names = append(names, r.Name)
	}
	return names
}

// matches uses the same convention as content classification: single
// words match as token prefixes, phrases as whole-word sequences.
func matches(tokens []string, keywords []string) bool {
	if len(tokens) == 0 {
		return false
	}
	padded := " " + strings.Join(tokens, " ") + " "
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			if strings.Contains(padded, " "+kw+" ") {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if strings.HasPrefix(tok, kw) {
				return true
			}
		}
	}
	return false
}
