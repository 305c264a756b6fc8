package ingest

import (
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// Pipeline runs an item through the local, side-effect free stages:
// raw item → normalization → classification
type Pipeline struct {
	normalizer *Normalizer
	classifier *Classifier
}

// NewPipeline creates an ingest pipeline with the given components
func NewPipeline(normalizer *Normalizer, classifier *Classifier) *Pipeline {
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	if classifier == nil {
		classifier = NewClassifier(DefaultRules())
	}
	return &Pipeline{
		normalizer: normalizer,
		classifier: classifier,
	}
}

// Classifier exposes the pipeline's classifier for maintenance jobs.
func (p *Pipeline) Classifier() *Classifier {
	return p.classifier
}

// Process normalizes and classifies one raw item.
func (p *Pipeline) Process(raw signal.RawItem, comp signal.Competitor) (signal.Signal, error) {
	s, err := p.normalizer.Normalize(raw, comp)
	if err != nil {
		return signal.Signal{}, err
	}
	p.classifier.Apply(&s)
	return s, nil
}
