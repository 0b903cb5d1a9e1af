// Package synapse is the engine facade used by the CLI and the MCP server.
package synapse

import (
	"context"
	"errors"
	"fmt"

	"github.com/CanopyHQ/synapse/internal/align"
	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/detect"
	"github.com/CanopyHQ/synapse/internal/embed"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/llm"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/mastery"
	"github.com/CanopyHQ/synapse/internal/project"
	"github.com/CanopyHQ/synapse/internal/recommend"
	"github.com/CanopyHQ/synapse/internal/store"
)

// Stage names the engine step an error came from.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageDetection  Stage = "detection"
	StageProjection Stage = "projection"
	StageAlignment  Stage = "alignment"
	StageRanking    Stage = "ranking"
	StageReset      Stage = "reset"
	StageReport     Stage = "report"
)

// StageError wraps every error returned by Service.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// GraphGenerator drafts a domain graph for a topic.
type GraphGenerator interface {
	GenerateDomainGraph(ctx context.Context, topic string) (string, error)
}

// Options carries collaborators. Nil fields are built from Config.
type Options struct {
	Inferrer  detect.Inferrer
	Generator GraphGenerator
	Embedder  embed.Embedder
}

// Service wires the store and the engine components together.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	detector  *detect.Detector
	projector *project.Projector
	aligner   *align.Engine
	ranker    *recommend.Ranker
	generator GraphGenerator
	log       *logger.Logger
}

// Open opens the store in cfg.DataDir and builds the engine.
func Open(cfg *config.Config, log *logger.Logger) (*Service, error) {
	s, err := store.OpenInDir(cfg.DataDir, log)
	if err != nil {
		return nil, err
	}
	return New(s, cfg, log, Options{}), nil
}

// New builds a service on an open store. Missing credentials disable inference
// and OpenAI embeddings instead of failing.
func New(s *store.Store, cfg *config.Config, log *logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.Nop()
	}
	th := mastery.Thresholds{Learning: cfg.LearningThreshold, Known: cfg.KnownThreshold}

	if opts.Inferrer == nil || opts.Generator == nil {
		client, err := llm.New(cfg, log)
		switch {
		case err == nil:
			if opts.Inferrer == nil {
				opts.Inferrer = client
			}
			if opts.Generator == nil {
				opts.Generator = client
			}
		case errors.Is(err, llm.ErrNotConfigured):
			log.Debug("inference disabled", "reason", err)
		default:
			log.Warn("failed to build llm client", "error", err)
		}
	}
	if opts.Embedder == nil {
		e, err := embed.New(cfg, log)
		if err != nil {
			log.Warn("embeddings disabled", "error", err)
		} else {
			opts.Embedder = e
		}
	}

	mode, err := detect.ParseMode(cfg.DetectMode)
	if err != nil {
		log.Warn("unknown detect mode, using aggressive", "mode", cfg.DetectMode)
		mode = detect.Aggressive
	}

	return &Service{
		cfg:   cfg,
		store: s,
		detector: detect.New(s, opts.Inferrer, detect.Config{
			Mode:          mode,
			Thresholds:    th,
			FuzzyMaxCells: cfg.FuzzyMaxCells,
			InferTimeout:  cfg.InferTimeout,
		}, log),
		projector: project.New(s, th, cfg.MaxPersonalNodes, log),
		aligner: align.New(s, opts.Embedder, align.Config{
			TopK:         cfg.EmbedTopK,
			Threshold:    cfg.EmbedSimThreshold,
			BatchSize:    cfg.EmbedBatchSize,
			Concurrency:  cfg.EmbedConcurrency,
			EmbedTimeout: cfg.EmbedTimeout,
		}, log),
		ranker:    recommend.New(s),
		generator: opts.Generator,
		log:       log,
	}
}

// Store exposes the underlying store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Ranker exposes the ranker, mainly so tests can pin its clock.
func (s *Service) Ranker() *recommend.Ranker {
	return s.ranker
}

func (s *Service) Close() error {
	return s.store.Close()
}

// DetectConceptMentions finds catalog concepts evidenced by text.
func (s *Service) DetectConceptMentions(ctx context.Context, text, topicHint string) ([]graph.Hit, error) {
	hits, err := s.detector.Detect(ctx, text, topicHint)
	return hits, wrap(StageDetection, err)
}

// ApplyEvidence records hits against the personal graph and rebuilds it.
func (s *Service) ApplyEvidence(ctx context.Context, hits []graph.Hit) (*project.Result, error) {
	res, err := s.projector.Apply(ctx, hits)
	return res, wrap(StageProjection, err)
}

// RunExactAlignments rebuilds the exact alignments.
func (s *Service) RunExactAlignments(ctx context.Context) (int, error) {
	n, err := s.aligner.RunExact(ctx)
	return n, wrap(StageAlignment, err)
}

// RunEmbeddingAlignments adds embedding alignments.
func (s *Service) RunEmbeddingAlignments(ctx context.Context) (*align.Counts, error) {
	c, err := s.aligner.RunEmbedding(ctx)
	return c, wrap(StageAlignment, err)
}

// NextUp ranks what to study next.
func (s *Service) NextUp(ctx context.Context, limit int) ([]recommend.Recommendation, error) {
	recs, err := s.ranker.NextUp(ctx, limit)
	return recs, wrap(StageRanking, err)
}

// Reset clears all stored state.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return wrap(StageReset, err)
	}
	s.log.Info("store reset")
	return nil
}
