package testsupport

import (
	"path/filepath"
	"testing"

	"recflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Workflow.LockTimeout = 5
	cfgVal.Workflow.ResolverCacheTTL = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithPresets installs named presets on the test config.
func WithPresets(presets map[string]map[string]any) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Presets = presets
	}
}

// WithTemplates installs named templates on the test config.
func WithTemplates(templates map[string]map[string]any) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Templates = templates
	}
}

// WithAllowErrors sets the global processing.allow_errors default.
func WithAllowErrors(allow bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Defaults = map[string]any{
			"processing": map[string]any{"allow_errors": allow},
		}
	}
}

// WithPipeline replaces the stage dependency graph.
func WithPipeline(edges ...config.PipelineEdge) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Edges = edges
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
