// Package detect finds which catalog concepts a piece of learner text evidences.
//
// Detection is layered: cheap string heuristics over the normalized text
// (exact, partial compound, substring, fuzzy) plus an optional external
// inference call. The mode is an explicit value on Config, never global.
package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/mastery"
	"github.com/CanopyHQ/synapse/internal/normalize"
)

// Mode selects how liberal detection is.
type Mode string

const (
	// Aggressive runs every heuristic and always consults inference.
	Aggressive Mode = "aggressive"
	// Conservative only accepts exact matches and uses inference as a fallback.
	Conservative Mode = "conservative"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Aggressive, "":
		return Aggressive, nil
	case Conservative:
		return Conservative, nil
	}
	return "", fmt.Errorf("unknown detect mode %q", s)
}

const (
	DefaultMaxInferLabels = 500
	DefaultFuzzyMaxCells  = 250000
	fuzzyMinRatio         = 0.7
	partialMinShare       = 0.6
)

// Config is fixed at construction; DetectWithMode overrides the mode per call.
type Config struct {
	Mode           Mode
	Thresholds     mastery.Thresholds
	MaxInferLabels int
	FuzzyMaxCells  int
	InferTimeout   time.Duration
}

// DefaultConfig returns aggressive detection with stock thresholds.
func DefaultConfig() Config {
	return Config{
		Mode:           Aggressive,
		Thresholds:     mastery.DefaultThresholds(),
		MaxInferLabels: DefaultMaxInferLabels,
		FuzzyMaxCells:  DefaultFuzzyMaxCells,
		InferTimeout:   20 * time.Second,
	}
}

// Catalog supplies the concepts that can be detected.
type Catalog interface {
	Concepts(ctx context.Context, sources ...graph.Source) ([]graph.Concept, error)
}

// InferRequest is what the external inference collaborator sees.
type InferRequest struct {
	Text      string
	TopicHint string
	Labels    []string
	Mode      Mode
}

// Inferrer asks an external model which labels the text mentions. It returns the
// model's raw reply, expected to contain a JSON array of {label, confidence, why}.
type Inferrer interface {
	InferMentions(ctx context.Context, req InferRequest) (string, error)
}

// Detector matches text against the domain and syllabus catalog.
type Detector struct {
	catalog Catalog
	infer   Inferrer
	cfg     Config
	log     *logger.Logger
}

// New builds a detector. infer may be nil, in which case inference contributes nothing.
func New(catalog Catalog, infer Inferrer, cfg Config, log *logger.Logger) *Detector {
	if cfg.Mode == "" {
		cfg.Mode = Aggressive
	}
	if cfg.Thresholds == (mastery.Thresholds{}) {
		cfg.Thresholds = mastery.DefaultThresholds()
	}
	if cfg.MaxInferLabels <= 0 {
		cfg.MaxInferLabels = DefaultMaxInferLabels
	}
	if cfg.FuzzyMaxCells <= 0 {
		cfg.FuzzyMaxCells = DefaultFuzzyMaxCells
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{catalog: catalog, infer: infer, cfg: cfg, log: log.With("component", "detect")}
}

// Mode returns the configured detection mode.
func (d *Detector) Mode() Mode {
	return d.cfg.Mode
}

// Detect runs detection in the configured mode.
func (d *Detector) Detect(ctx context.Context, text, topicHint string) ([]graph.Hit, error) {
	return d.DetectWithMode(ctx, text, topicHint, d.cfg.Mode)
}

// DetectWithMode returns at most one hit per normalized label, each with
// confidence at or above the learning threshold. Only catalog loading can fail;
// inference problems are logged and ignored.
func (d *Detector) DetectWithMode(ctx context.Context, text, topicHint string, mode Mode) ([]graph.Hit, error) {
	catalog, err := d.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	lt := d.cfg.Thresholds.Learning

	exact := exactMentions(normalize.Label(text), catalog, mode, lt, d.cfg.FuzzyMaxCells)

	if mode == Conservative {
		if len(exact) > 0 {
			return exact, nil
		}
		return filterMin(dedupe(d.inferMentions(ctx, text, topicHint, catalog, mode)), lt), nil
	}

	combined := dedupe(append(exact, d.inferMentions(ctx, text, topicHint, catalog, mode)...))
	return filterMin(combined, lt), nil
}

// loadCatalog returns domain concepts before syllabus ones so a label shared by
// both resolves to the canonical concept first.
func (d *Detector) loadCatalog(ctx context.Context) ([]graph.Concept, error) {
	catalog, err := d.catalog.Concepts(ctx, graph.Domain, graph.Syllabus)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	sort.SliceStable(catalog, func(i, j int) bool {
		return catalog[i].Source.Rank() < catalog[j].Source.Rank()
	})
	return catalog, nil
}

func (d *Detector) inferMentions(ctx context.Context, text, topicHint string, catalog []graph.Concept, mode Mode) []graph.Hit {
	if d.infer == nil || len(catalog) == 0 {
		return nil
	}
	labels := make([]string, 0, min(len(catalog), d.cfg.MaxInferLabels))
	for _, c := range catalog {
		if len(labels) == d.cfg.MaxInferLabels {
			break
		}
		labels = append(labels, c.Label)
	}

	if d.cfg.InferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.InferTimeout)
		defer cancel()
	}
	raw, err := d.infer.InferMentions(ctx, InferRequest{Text: text, TopicHint: topicHint, Labels: labels, Mode: mode})
	if err != nil {
		d.log.Warn("concept inference failed, continuing without it", "error", err)
		return nil
	}
	items, err := parseInference(raw)
	if err != nil {
		d.log.Warn("unparseable inference reply", "error", err, "reply_len", len(raw))
		return nil
	}
	return mapInference(items, catalog, mode, d.cfg.Thresholds.Learning)
}

// dedupe keeps the first hit per normalized label.
func dedupe(hits []graph.Hit) []graph.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if seen[h.NormLabel] {
			continue
		}
		seen[h.NormLabel] = true
		out = append(out, h)
	}
	return out
}

func filterMin(hits []graph.Hit, minConf float64) []graph.Hit {
	out := hits[:0:0]
	for _, h := range hits {
		if h.Confidence >= minConf {
			out = append(out, h)
		}
	}
	return out
}
