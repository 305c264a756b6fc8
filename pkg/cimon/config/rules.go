package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// RulesFile is the classification rules file. It replaces the built-in
// trigger table; categories it omits never match.
type RulesFile struct {
	Categories map[string][]string `yaml:"categories"`
}

// LoadRules loads classification rules from a YAML file
func LoadRules(path string) (ingest.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

// ParseRules is LoadRules over in-memory YAML
func ParseRules(data []byte) (ingest.Rules, error) {
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: parse rules: %v", internalerr.ErrInvalidConfig, err)
	}
	if len(rf.Categories) == 0 {
		return nil, fmt.Errorf("%w: rules file defines no categories", internalerr.ErrInvalidConfig)
	}

	rules := make(ingest.Rules, len(rf.Categories))
	for name, triggers := range rf.Categories {
		cat, err := signal.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
		}
		if cat == signal.CategoryGeneral {
			return nil, fmt.Errorf("%w: General is the fallback and takes no triggers", internalerr.ErrInvalidConfig)
		}
		rules[cat] = append(rules[cat], cleanList(triggers)...)
	}
	return rules, nil
}
