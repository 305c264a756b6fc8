package ingest

import (
	"strings"

	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// Rules maps each category to its trigger phrases. Evaluation order is
// signal.CategoryPriority, never map order.
type Rules map[signal.Category][]string

// DefaultRules is the built-in trigger table.
func DefaultRules() Rules {
	return Rules{
		signal.CategoryAcquisition: {
			"acquire", "acquires", "acquired", "acquiring", "acquisition", "acquisitions",
			"merger", "merge", "merges", "bought", "buys", "purchase", "purchases",
			"takeover", "announces acquisition",
		},
		signal.CategoryPartnership: {
			"partnership", "partnerships", "partner", "partners", "partnered", "partnering",
			"integration", "integrations", "alliance", "collaborate", "collaborates",
			"collaboration", "joint venture", "team up", "teams up", "teamed up", "work with",
		},
		signal.CategoryPricing: {
			"pricing", "price", "prices", "price change", "price cut", "tier", "tiers",
			"cost", "costs", "free tier", "discount", "discounts", "savings", "billing",
		},
		signal.CategoryProduct: {
			"launch", "launches", "launched", "release", "releases", "released",
			"announce", "announces", "announced", "introducing", "introduces",
			"available", "availability", "ga", "general availability", "beta", "preview",
			"feature", "features", "deprecate", "deprecates", "deprecation", "sunset",
			"unveil", "unveils", "unveiled",
		},
		signal.CategoryConference: {
			"keynote", "conference", "summit", "event", "events", "speaking", "speaking at",
			"presents", "presents at", "demo", "webinar", "talk", "talks",
		},
	}
}

// Classifier is a small ordered rule engine over title and summary text.
type Classifier struct {
	order    []signal.Category
	triggers map[signal.Category][]string // normalized phrases
}

// NewClassifier compiles rules. Categories missing from rules never match;
// triggers are matched case-insensitively on word boundaries.
func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{
		order:    signal.CategoryPriority,
		triggers: make(map[signal.Category][]string, len(rules)),
	}
	for cat, phrases := range rules {
		normalized := make([]string, 0, len(phrases))
		for _, p := range phrases {
			m := matchText(p)
			if strings.TrimSpace(m) == "" {
				continue
			}
			normalized = append(normalized, m)
		}
		c.triggers[cat] = normalized
	}
	return c
}

// Classify returns the highest-priority category with a matching trigger,
// or General when nothing matches.
func (c *Classifier) Classify(title, summary string) signal.Category {
	text := matchText(title + " " + summary)
	for _, cat := range c.order {
		for _, trig := range c.triggers[cat] {
			if strings.Contains(text, trig) {
				return cat
			}
		}
	}
	return signal.CategoryGeneral
}

// Apply sets the signal's category in place.
func (c *Classifier) Apply(s *signal.Signal) {
	s.Category = c.Classify(s.Title, s.Summary)
}

// Stats counts signals per category.
func Stats(signals []signal.Signal) map[signal.Category]int {
	stats := make(map[signal.Category]int)
	for _, s := range signals {
		cat := s.Category
		if cat == "" {
			cat = signal.CategoryGeneral
		}
		stats[cat]++
	}
	return stats
}
