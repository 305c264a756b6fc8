// Package archive reads and writes signals as JSON Lines, one signal per
// line, for backups and for moving history between stores.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/cimon/pkg/cimon/dedup"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const maxLineBytes = 1 << 20

// Item is the archived form of a signal
type Item struct {
	Competitor        string    `json:"competitor"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary,omitempty"`
	URL               string    `json:"url"`
	SourceURL         string    `json:"source_url,omitempty"`
	Outlet            string    `json:"outlet,omitempty"`
	SourceType        string    `json:"source_type"`
	Score             int       `json:"score,omitempty"`
	PublishedAt       time.Time `json:"published_at"`
	PublishedInferred bool      `json:"published_inferred,omitempty"`
	CollectedAt       time.Time `json:"collected_at"`
	Category          string    `json:"category"`
	Fingerprint       string    `json:"fingerprint"`
}

func fromSignal(s signal.Signal) Item {
	return Item{
		Competitor:        s.Competitor,
		Title:             s.Title,
		Summary:           s.Summary,
		URL:               s.URL,
		SourceURL:         s.SourceURL,
		Outlet:            s.Outlet,
		SourceType:        string(s.SourceType),
		Score:             s.Score,
		PublishedAt:       s.PublishedAt,
		PublishedInferred: s.PublishedInferred,
		CollectedAt:       s.CollectedAt,
		Category:          string(s.Category),
		Fingerprint:       s.Fingerprint,
	}
}

// Signal converts the item back. The fingerprint is recomputed when the
// archive did not carry one.
func (it Item) Signal() (signal.Signal, error) {
	if strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.Competitor) == "" {
		return signal.Signal{}, fmt.Errorf("missing title or competitor")
	}
	typ, err := signal.ParseSourceType(it.SourceType)
	if err != nil {
		return signal.Signal{}, err
	}
	cat := signal.CategoryGeneral
	if it.Category != "" {
		if cat, err = signal.ParseCategory(it.Category); err != nil {
			return signal.Signal{}, err
		}
	}
	fp := it.Fingerprint
	if fp == "" {
		fp = dedup.Fingerprint(it.Title, it.URL)
	}
	return signal.Signal{
		Competitor:        it.Competitor,
		Title:             it.Title,
		Summary:           it.Summary,
		URL:               it.URL,
		SourceURL:         it.SourceURL,
		Outlet:            it.Outlet,
		SourceType:        typ,
		Score:             it.Score,
		PublishedAt:       it.PublishedAt,
		PublishedInferred: it.PublishedInferred,
		CollectedAt:       it.CollectedAt,
		Category:          cat,
		Fingerprint:       fp,
	}, nil
}

// Write encodes signals to w, one per line
func Write(w io.Writer, signals []signal.Signal) error {
	enc := json.NewEncoder(w)
	for _, s := range signals {
		if err := enc.Encode(fromSignal(s)); err != nil {
			return fmt.Errorf("encode %s: %w", s.Fingerprint, err)
		}
	}
	return nil
}

// WriteFile writes signals to path. The file is synced and closed before
// returning so a failed flush is reported.
func WriteFile(path string, signals []signal.Signal) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := Write(f, signals); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

// LoadFromJSONL loads signals from a JSONL file. Malformed lines are logged
// and skipped; a file without a single valid line is an error.
func LoadFromJSONL(path string, log *zap.Logger) ([]signal.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, log)
}

// Read is LoadFromJSONL over a reader
func Read(r io.Reader, log *zap.Logger) ([]signal.Signal, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var signals []signal.Signal
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var it Item
		if err := json.Unmarshal([]byte(text), &it); err != nil {
			log.Warn("skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		s, err := it.Signal()
		if err != nil {
			log.Warn("skipping invalid signal", zap.Int("line", line), zap.Error(err))
			continue
		}
		signals = append(signals, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if len(signals) == 0 {
		return nil, fmt.Errorf("no valid signals found")
	}
	return signals, nil
}
