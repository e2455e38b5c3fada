package configtree

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"recflow/internal/config"
	"recflow/internal/recording"
	"recflow/internal/services"
)

const (
	keyProcessing  = "processing"
	keyAllowErrors = "allow_errors"
	keyEnabled     = "enabled"
)

// Layers holds the static layers shared by every recording.
type Layers struct {
	Defaults  map[string]any
	Presets   map[string]map[string]any
	Templates map[string]map[string]any
}

// LayersFromConfig copies the layer sections out of the loaded config.
func LayersFromConfig(cfg *config.Config) Layers {
	if cfg == nil {
		return Layers{}
	}
	return Layers{
		Defaults:  cfg.Defaults,
		Presets:   cfg.Presets,
		Templates: cfg.Templates,
	}
}

// StageConfig is the resolved view of one stage family for one recording.
type StageConfig struct {
	Family       string
	AllowErrors  bool
	StageEnabled bool
	// Resolved is false when no layer set allow_errors; AllowErrors is then
	// false so failures block.
	Resolved bool
	Tree     map[string]any
}

type cachedTree struct {
	fingerprint string
	tree        map[string]any
}

// Resolver merges layers per recording and caches the result.
type Resolver struct {
	layers Layers
	cache  *cache.Cache
	ttl    time.Duration
}

// NewResolver builds a resolver. A non-positive ttl disables caching.
func NewResolver(layers Layers, ttl time.Duration) *Resolver {
	r := &Resolver{layers: layers, ttl: ttl}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// Tree returns the fully merged option tree for rec.
func (r *Resolver) Tree(rec *recording.Recording) (map[string]any, error) {
	if rec == nil {
		return nil, services.Wrap(services.ErrValidation, "resolver", "tree", "recording is nil", nil)
	}
	fingerprint, err := layerFingerprint(rec)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if hit, ok := r.cache.Get(rec.ID); ok {
			if entry, ok := hit.(cachedTree); ok && entry.fingerprint == fingerprint {
				return entry.tree, nil
			}
		}
	}

	layers := []map[string]any{r.layers.Defaults}
	if name := normalizeName(rec.Preset); name != "" {
		preset, ok := r.layers.Presets[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "preset", fmt.Sprintf("unknown preset %q", rec.Preset), nil)
		}
		layers = append(layers, preset)
	}
	if name := normalizeName(rec.Template); name != "" {
		template, ok := r.layers.Templates[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "template", fmt.Sprintf("unknown template %q", rec.Template), nil)
		}
		layers = append(layers, template)
	}
	layers = append(layers, rec.Overrides)

	tree := Merge(layers...)
	if r.cache != nil {
		r.cache.Set(rec.ID, cachedTree{fingerprint: fingerprint, tree: tree}, cache.DefaultExpiration)
	}
	return tree, nil
}

// Resolve returns the error tolerance and enablement of one stage family.
func (r *Resolver) Resolve(rec *recording.Recording, family string) (StageConfig, error) {
	family = normalizeName(family)
	out := StageConfig{Family: family, StageEnabled: true}
	tree, err := r.Tree(rec)
	if err != nil {
		return out, err
	}
	out.Tree = tree
	if allow, ok := Bool(tree, keyProcessing, family, keyAllowErrors); ok {
		out.AllowErrors, out.Resolved = allow, true
	} else if allow, ok := Bool(tree, keyProcessing, keyAllowErrors); ok {
		out.AllowErrors, out.Resolved = allow, true
	}
	if enabled, ok := Bool(tree, keyProcessing, family, keyEnabled); ok {
		out.StageEnabled = enabled
	}
	return out, nil
}

// Invalidate drops the cached tree of a recording.
func (r *Resolver) Invalidate(id string) {
	if r.cache != nil {
		r.cache.Delete(id)
	}
}

// CachedCount reports how many trees are cached.
func (r *Resolver) CachedCount() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.ItemCount()
}

func layerFingerprint(rec *recording.Recording) (string, error) {
	overrides, err := json.Marshal(rec.Overrides)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "resolver", "fingerprint", "overrides are not serializable", err)
	}
	return normalizeName(rec.Preset) + "|" + normalizeName(rec.Template) + "|" + string(overrides), nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
