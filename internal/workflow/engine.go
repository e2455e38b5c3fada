package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"recflow/internal/config"
	"recflow/internal/configtree"
	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/store"
)

// Engine applies outcome reports, retries and administrative changes to
// persisted recordings. Every state change runs inside store.Mutate, so all
// calls for one recording are serialized while different recordings proceed
// independently.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	resolver *configtree.Resolver
	graph    *recording.Graph
	logger   *slog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithResolver replaces the resolver built from the config layers.
func WithResolver(resolver *configtree.Resolver) EngineOption {
	return func(e *Engine) {
		if resolver != nil {
			e.resolver = resolver
		}
	}
}

// WithGraph replaces the stage dependency graph.
func WithGraph(graph *recording.Graph) EngineOption {
	return func(e *Engine) {
		if graph != nil {
			e.graph = graph
		}
	}
}

// NewEngine wires the store, the layered config resolver and the stage graph.
func NewEngine(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if st == nil {
		return nil, errors.New("workflow: store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		store:    st,
		resolver: configtree.NewResolver(configtree.LayersFromConfig(cfg), cfg.ResolverCacheTTL()),
		graph:    GraphFromConfig(cfg),
		logger:   logging.NewComponentLogger(logger, "workflow-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.graph.HasCycle() {
		logging.WarnWithContext(e.logger, "stage graph contains a cycle", "graph_cycle",
			logging.String(logging.FieldErrorHint, "review [[pipeline.edges]] in the config"),
			logging.String(logging.FieldImpact, "stages in the cycle may never start"),
		)
	}
	return e, nil
}

// GraphFromConfig builds the stage graph from [[pipeline.edges]], falling
// back to the built-in pipeline when none are configured.
func GraphFromConfig(cfg *config.Config) *recording.Graph {
	if cfg == nil || len(cfg.Pipeline.Edges) == 0 {
		return recording.DefaultGraph()
	}
	edges := make([]recording.Edge, 0, len(cfg.Pipeline.Edges))
	for _, edge := range cfg.Pipeline.Edges {
		edges = append(edges, recording.Edge{
			Parent:    recording.StageType(strings.TrimSpace(edge.Parent)),
			Dependent: recording.StageType(strings.TrimSpace(edge.Dependent)),
		})
	}
	return recording.NewGraph(edges...)
}

// Graph returns the stage dependency graph in use.
func (e *Engine) Graph() *recording.Graph {
	return e.graph
}

// Resolver returns the layered config resolver in use.
func (e *Engine) Resolver() *configtree.Resolver {
	return e.resolver
}

func (e *Engine) knownStage(t recording.StageType) error {
	if !e.graph.Known(t) {
		return fmt.Errorf("%w: %q", recording.ErrUnknownStage, t)
	}
	return nil
}
