package cimon

import (
	"fmt"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/source"
)

// BuildTargets creates an adapter for every configured source. Sources that
// cannot be built are returned as configuration failures and skipped; they
// never prevent the remaining sources from running.
func BuildTargets(comps []signal.Competitor, opts source.Options) ([]Target, []Failure) {
	var (
		targets  []Target
		failures []Failure
	)
	for _, c := range comps {
		if len(c.Sources) == 0 {
			failures = append(failures, Failure{
				Stage:      StageConfig,
				Kind:       KindConfiguration,
				Competitor: c.Name,
				Err:        fmt.Errorf("%w: competitor has no sources", internalerr.ErrInvalidConfig),
			})
			continue
		}
		for _, cfg := range c.Sources {
			ad, err := source.New(cfg, opts)
			if err != nil {
				failures = append(failures, Failure{
					Stage:      StageConfig,
					Kind:       KindOf(err),
					Competitor: c.Name,
					Source:     source.Describe(cfg),
					Err:        err,
				})
				continue
			}
			targets = append(targets, Target{Competitor: c, Adapter: ad})
		}
	}
	return targets, failures
}
