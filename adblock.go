// Package adblock compiles Adblock Plus style filter lists into a searchable
// index and answers whether a network request should be blocked.
//
// An Engine is created from filter-list text, can be saved to and restored
// from a compact binary blob, and is released with Destroy. After Destroy
// every call fails with ErrEngineDestroyed.
package adblock

import (
	"io"

	"github.com/c2h5oh/datasize"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/config"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/decisioncache"
	"github.com/haukened/rr-adblock/internal/adblock/repos/decisioncache/lru"
	"github.com/haukened/rr-adblock/internal/adblock/repos/filterlist/parsers"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index/bloom"
	"github.com/haukened/rr-adblock/internal/adblock/services/engine"
)

// MatchResult is the verdict for a single request.
type MatchResult = domain.MatchResult

// Resource is a redirect payload addressed by $redirect rules.
type Resource = domain.Resource

// UsageError reports a call on a destroyed or uninitialized engine.
type UsageError = engine.UsageError

const (
	// ErrEngineDestroyed is wrapped by every error returned after Destroy.
	ErrEngineDestroyed = engine.ErrEngineDestroyed

	// ErrEngineUninitialized is wrapped by every error returned from an
	// Engine that was not made by CreateEngine or CreateDefaultEngine.
	ErrEngineUninitialized = engine.ErrEngineUninitialized
)

// ResultFromBits decodes the bitmask produced by MatchResult.Bits.
func ResultFromBits(bits int8) MatchResult { return domain.ResultFromBits(bits) }

// NewResource builds a redirect resource from base64 content.
func NewResource(name, contentType, content string, aliases ...string) (Resource, error) {
	return domain.NewResource(name, contentType, content, aliases...)
}

const (
	defaultCacheSize = 1000
	defaultFPRate    = 0.01
)

type settings struct {
	logger    log.Logger
	cacheSize int
	fpRate    float64
	maxBlob   datasize.ByteSize
}

// Option customizes engine construction.
type Option func(*settings)

// WithLogger sets the logger used for parse skips and lifecycle events.
func WithLogger(l log.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithCacheSize sets the number of memoized match decisions. Zero or less
// disables the cache.
func WithCacheSize(n int) Option {
	return func(s *settings) { s.cacheSize = n }
}

// WithBloomFPRate sets the false-positive rate of the index pre-filter.
// Values outside (0, 1) keep the default.
func WithBloomFPRate(p float64) Option {
	return func(s *settings) {
		if p > 0 && p < 1 {
			s.fpRate = p
		}
	}
}

// WithMaxBlobSize bounds the blobs Deserialize accepts.
func WithMaxBlobSize(n datasize.ByteSize) Option {
	return func(s *settings) { s.maxBlob = n }
}

// WithConfig applies the engine section of a loaded configuration.
func WithConfig(cfg *config.AppConfig) Option {
	return func(s *settings) {
		if cfg == nil {
			return
		}
		s.cacheSize = cfg.Engine.Cache.Size
		WithBloomFPRate(cfg.Engine.Bloom.FPRate)(s)
		s.maxBlob = cfg.Engine.MaxBlobBytes()
	}
}

func newSettings(opts []Option) settings {
	s := settings{cacheSize: defaultCacheSize, fpRate: defaultFPRate}
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	return s
}

func (s settings) buildOptions() index.BuildOptions {
	return index.BuildOptions{Bloom: bloom.NewFactory(), FPRate: s.fpRate}
}

func (s settings) cache() decisioncache.DecisionCache {
	c, err := lru.New(s.cacheSize)
	if err != nil {
		s.logger.Warn(map[string]any{"size": s.cacheSize, "error": err.Error()}, "cache_disabled")
		return nil
	}
	return c
}

// Engine matches requests against a compiled filter list. It is safe for
// concurrent use. The zero value is unusable: its methods return
// ErrEngineUninitialized.
type Engine struct {
	inner *engine.Engine
}

func newEngine(idx *index.Index, s settings) *Engine {
	return &Engine{inner: engine.New(idx, engine.Options{
		Logger:      s.logger,
		Cache:       s.cache(),
		Build:       s.buildOptions(),
		MaxBlobSize: s.maxBlob,
	})}
}

// core returns the wrapped engine, or a usage error for a nil or zero Engine.
func (e *Engine) core(op string) (*engine.Engine, error) {
	if e == nil || e.inner == nil {
		return nil, &UsageError{Op: op, Err: ErrEngineUninitialized}
	}
	return e.inner, nil
}

// CreateEngine compiles rules, one filter per line. It never fails:
// unparseable lines are skipped and logged at debug level.
func CreateEngine(rules string, opts ...Option) *Engine {
	s := newSettings(opts)
	res := parsers.ParseFilterListString(rules, "inline", s.logger)
	idx := index.Build(res.Rules, s.buildOptions())
	st := idx.Stats()
	s.logger.Info(map[string]any{
		"rules":    st.Rules,
		"skipped":  len(res.Skipped),
		"cosmetic": res.Cosmetic,
		"removed":  st.Removed,
	}, "engine_created")
	return newEngine(idx, s)
}

// CreateDefaultEngine returns an engine with no rules, typically filled
// later by Deserialize.
func CreateDefaultEngine(opts ...Option) *Engine {
	return newEngine(index.Empty(), newSettings(opts))
}

// Match reports whether a request for url, made by the page at sourceURL
// and classified as resourceType, should be blocked.
func (e *Engine) Match(url, sourceURL, resourceType string) (MatchResult, error) {
	c, err := e.core("match")
	if err != nil {
		return MatchResult{}, err
	}
	return c.Match(domain.NewRequest(url, sourceURL, resourceType))
}

// MatchWithHistory matches a request that earlier engines already judged.
// A nil thirdParty derives the party relation from the two URLs.
func (e *Engine) MatchWithHistory(url, sourceURL, resourceType string, thirdParty *bool, previous MatchResult) (MatchResult, error) {
	c, err := e.core("match")
	if err != nil {
		return MatchResult{}, err
	}
	req := domain.NewRequest(url, sourceURL, resourceType)
	if thirdParty != nil {
		req = req.WithThirdParty(*thirdParty)
	}
	return c.MatchWithHistory(req, previous)
}

// Deserialize replaces the rules with those in a blob made by Serialize.
// It reports false, without error, when the blob is unusable; the previous
// rules then stay in effect.
func (e *Engine) Deserialize(data []byte) (bool, error) {
	c, err := e.core("deserialize")
	if err != nil {
		return false, err
	}
	return c.Deserialize(data)
}

// DeserializeReader is Deserialize over a stream.
func (e *Engine) DeserializeReader(r io.Reader) (bool, error) {
	c, err := e.core("deserialize")
	if err != nil {
		return false, err
	}
	return c.DeserializeReader(r)
}

// DeserializeFile is Deserialize over a file. A file that cannot be read
// is an error.
func (e *Engine) DeserializeFile(path string) (bool, error) {
	c, err := e.core("deserialize")
	if err != nil {
		return false, err
	}
	return c.DeserializeFile(path)
}

// Serialize encodes the current rules.
func (e *Engine) Serialize() ([]byte, error) {
	c, err := e.core("serialize")
	if err != nil {
		return nil, err
	}
	return c.Serialize()
}

// SerializeFile atomically writes the current rules to path.
func (e *Engine) SerializeFile(path string) error {
	c, err := e.core("serialize")
	if err != nil {
		return err
	}
	return c.SerializeFile(path)
}

// EnableTag activates rules carrying $tag=tag.
func (e *Engine) EnableTag(tag string) error {
	c, err := e.core("tag")
	if err != nil {
		return err
	}
	return c.EnableTag(tag)
}

// DisableTag deactivates rules carrying $tag=tag.
func (e *Engine) DisableTag(tag string) error {
	c, err := e.core("tag")
	if err != nil {
		return err
	}
	return c.DisableTag(tag)
}

// HasTag reports whether tag is enabled.
func (e *Engine) HasTag(tag string) (bool, error) {
	c, err := e.core("tag")
	if err != nil {
		return false, err
	}
	return c.HasTag(tag)
}

// AddResource registers a redirect resource. It reports false when the
// resource is invalid or its name is already taken.
func (e *Engine) AddResource(r Resource) (bool, error) {
	c, err := e.core("add_resource")
	if err != nil {
		return false, err
	}
	return c.AddResource(r)
}

// AddResourcesFromJSON replaces the redirect resources with a JSON bundle
// of {"name", "aliases", "kind": {"mime"}, "content"} objects.
func (e *Engine) AddResourcesFromJSON(data []byte) error {
	c, err := e.core("use_resources")
	if err != nil {
		return err
	}
	return c.AddResourcesFromJSON(data)
}

// LoadResourceDir adds the resources described by the YAML, TOML and JSON
// files under dir.
func (e *Engine) LoadResourceDir(dir string) error {
	c, err := e.core("add_resource")
	if err != nil {
		return err
	}
	return c.LoadResourceDir(dir)
}

// Stats describes the engine's current contents.
func (e *Engine) Stats() (engine.Stats, error) {
	c, err := e.core("stats")
	if err != nil {
		return engine.Stats{}, err
	}
	return c.Stats()
}

// Destroy releases the engine. It is safe to call more than once, and a
// no-op on a nil or zero Engine.
func (e *Engine) Destroy() {
	if c, err := e.core("destroy"); err == nil {
		c.Destroy()
	}
}
