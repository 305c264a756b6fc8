package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// Registry is the competitor registry file
type Registry struct {
	Competitors []CompetitorEntry `yaml:"competitors"`
}

// CompetitorEntry is one competitor as written in the registry
type CompetitorEntry struct {
	Name     string        `yaml:"name"`
	Domain   string        `yaml:"domain"`
	Keywords []string      `yaml:"keywords"`
	RSSFeeds []string      `yaml:"rss_feeds"` // shorthand for feed sources
	Sources  []SourceEntry `yaml:"sources"`
}

// SourceEntry is one source as written in the registry
type SourceEntry struct {
	Type  string   `yaml:"type"`
	URL   string   `yaml:"url"`
	Terms []string `yaml:"terms"`
}

// EntryError describes a registry entry that was skipped. Source is -1 when
// the whole competitor was rejected.
type EntryError struct {
	Index      int
	Competitor string
	Source     int
	Err        error
}

func (e *EntryError) Error() string {
	name := e.Competitor
	if name == "" {
		name = fmt.Sprintf("#%d", e.Index+1)
	}
	if e.Source >= 0 {
		return fmt.Sprintf("competitor %s source #%d: %v", name, e.Source+1, e.Err)
	}
	return fmt.Sprintf("competitor %s: %v", name, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// LoadRegistry reads the competitor registry. Only an unreadable or
// unparseable file is an error; invalid entries are skipped and returned as
// problems so the rest of the registry stays usable.
func LoadRegistry(path string) ([]signal.Competitor, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry is LoadRegistry over in-memory YAML
func ParseRegistry(data []byte) ([]signal.Competitor, []error, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, nil, fmt.Errorf("%w: parse registry: %v", internalerr.ErrInvalidConfig, err)
	}

	var (
		comps    []signal.Competitor
		problems []error
		seen     = make(map[string]bool)
	)
	for i, entry := range reg.Competitors {
		comp, errs := entry.competitor(i)
		problems = append(problems, errs...)
		if comp == nil {
			continue
		}
		key := strings.ToLower(comp.Name)
		if seen[key] {
			problems = append(problems, &EntryError{
				Index: i, Competitor: comp.Name, Source: -1,
				Err: fmt.Errorf("%w: duplicate competitor name", internalerr.ErrInvalidConfig),
			})
			continue
		}
		seen[key] = true
		comps = append(comps, *comp)
	}
	return comps, problems, nil
}

func (e CompetitorEntry) competitor(idx int) (*signal.Competitor, []error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil, []error{&EntryError{
			Index: idx, Source: -1,
			Err: fmt.Errorf("%w: missing name", internalerr.ErrInvalidConfig),
		}}
	}

	comp := &signal.Competitor{
		Name:     name,
		Domain:   strings.TrimSpace(e.Domain),
		Keywords: cleanList(e.Keywords),
	}

	var problems []error
	for _, feed := range cleanList(e.RSSFeeds) {
		comp.Sources = append(comp.Sources, signal.SourceConfig{Type: signal.SourceFeed, URL: feed})
	}
	for j, s := range e.Sources {
		src, err := s.source()
		if err != nil {
			problems = append(problems, &EntryError{Index: idx, Competitor: name, Source: j, Err: err})
			continue
		}
		comp.Sources = append(comp.Sources, src)
	}
	return comp, problems
}

func (s SourceEntry) source() (signal.SourceConfig, error) {
	typ, err := signal.ParseSourceType(s.Type)
	if err != nil {
		return signal.SourceConfig{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	src := signal.SourceConfig{
		Type:  typ,
		URL:   strings.TrimSpace(s.URL),
		Terms: cleanList(s.Terms),
	}
	switch typ {
	case signal.SourceFeed, signal.SourcePress:
		if src.URL == "" {
			return signal.SourceConfig{}, fmt.Errorf("%w: %s source requires a url", internalerr.ErrInvalidConfig, typ)
		}
		if !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://") {
			return signal.SourceConfig{}, fmt.Errorf("%w: %s url %q is not http(s)", internalerr.ErrInvalidConfig, typ, src.URL)
		}
	}
	return src, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsEntryError reports whether err came from a skipped registry entry
func IsEntryError(err error) bool {
	var e *EntryError
	return errors.As(err, &e)
}
