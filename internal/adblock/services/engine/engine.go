// Package engine owns a compiled rule index and guards its lifecycle:
// matching, replacing the index from a blob, tags, redirect resources and
// destruction.
package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/c2h5oh/datasize"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/codec"
	"github.com/haukened/rr-adblock/internal/adblock/repos/decisioncache"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
	"github.com/haukened/rr-adblock/internal/adblock/repos/resources"
	"github.com/haukened/rr-adblock/internal/adblock/services/matcher"
)

const (
	// ErrEngineDestroyed is returned by every call made after Destroy.
	ErrEngineDestroyed errors.Error = "engine destroyed"

	// ErrEngineUninitialized is returned by calls on a zero Engine.
	ErrEngineUninitialized errors.Error = "engine not initialized"
)

// State is the lifecycle state of an Engine.
type State uint8

const (
	StateUninitialized State = iota
	StateActive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// UsageError reports an operation invoked in a state that does not allow
// it. It is a programming error on the caller's side, not a data problem.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string { return "adblock: " + e.Op + ": " + e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	Logger log.Logger

	// Cache memoizes plain matches. Nil disables caching.
	Cache decisioncache.DecisionCache

	// Build is used to rebuild lookup structures for deserialized indexes.
	Build index.BuildOptions

	// MaxBlobSize bounds deserialized input. Zero means codec.DefaultMaxSize.
	MaxBlobSize datasize.ByteSize
}

// Engine is safe for concurrent use. Matches share a read lock; lifecycle
// transitions take the write lock, so no match observes a half-replaced or
// destroyed index.
type Engine struct {
	mu        sync.RWMutex
	state     State
	idx       *index.Index
	tags      map[string]struct{}
	resources *resources.Store
	cache     decisioncache.DecisionCache
	logger    log.Logger
	build     index.BuildOptions
	maxBlob   datasize.ByteSize
}

// New returns an active engine owning idx. A nil idx is replaced by an
// empty index.
func New(idx *index.Index, opts Options) *Engine {
	if idx == nil {
		idx = index.Empty()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Engine{
		state:     StateActive,
		idx:       idx,
		tags:      make(map[string]struct{}),
		resources: resources.NewStore(),
		cache:     opts.Cache,
		logger:    logger,
		build:     opts.Build,
		maxBlob:   opts.MaxBlobSize,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// checkLocked returns a *UsageError unless the engine is active. e.mu must
// be held.
func (e *Engine) checkLocked(op string) error {
	switch e.state {
	case StateActive:
		return nil
	case StateDestroyed:
		return &UsageError{Op: op, Err: ErrEngineDestroyed}
	default:
		return &UsageError{Op: op, Err: ErrEngineUninitialized}
	}
}

// Match evaluates req. Results are served from the decision cache when one
// is configured.
func (e *Engine) Match(req domain.Request) (domain.MatchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("match"); err != nil {
		return domain.MatchResult{}, err
	}

	var key string
	if e.cache != nil {
		key = req.CacheKey()
		if r, ok := e.cache.Get(key); ok {
			return r, nil
		}
	}
	v := matcher.Match(e.idx, req, matcher.Options{Tags: e.tags, Redirects: e.resources})
	if e.cache != nil {
		e.cache.Put(key, v.Result)
	}
	return v.Result, nil
}

// MatchWithHistory evaluates req in the light of an earlier result for the
// same request, as when several engines are consulted in turn. Blocking
// rules are skipped once a previous check matched or excepted the request,
// and exceptions are always evaluated unless one was already found.
func (e *Engine) MatchWithHistory(req domain.Request, previous domain.MatchResult) (domain.MatchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("match"); err != nil {
		return domain.MatchResult{}, err
	}
	v := matcher.Match(e.idx, req, matcher.Options{
		Tags:            e.tags,
		Redirects:       e.resources,
		SkipBlocking:    previous.Matched || previous.Exception,
		ForceExceptions: !previous.Exception,
	})
	return v.Result, nil
}

// isDataError reports whether err means the blob itself is unusable, as
// opposed to an I/O failure while reading it.
func isDataError(err error) bool {
	for _, target := range []error{
		codec.ErrBadMagic,
		codec.ErrUnsupportedVersion,
		codec.ErrChecksum,
		codec.ErrTruncated,
		codec.ErrCorrupt,
		codec.ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Deserialize replaces the index with the one encoded in data. It returns
// false without error when data is not a usable blob, in which case the
// current index stays in place.
func (e *Engine) Deserialize(data []byte) (bool, error) {
	if err := e.check("deserialize"); err != nil {
		return false, err
	}
	limit := e.maxBlob
	if limit == 0 {
		limit = codec.DefaultMaxSize
	}
	if uint64(len(data)) > limit.Bytes() {
		return e.rejectBlob("deserialize", fmt.Errorf("%w: over %s", codec.ErrTooLarge, limit.HR()))
	}
	idx, err := codec.Decode(data, e.build)
	if err != nil {
		return e.rejectBlob("deserialize", err)
	}
	return e.swap("deserialize", idx)
}

// DeserializeReader reads a blob from r and replaces the index with it.
// Read errors are returned; bad data yields false without error.
func (e *Engine) DeserializeReader(r io.Reader) (ok bool, err error) {
	if err = e.check("deserialize"); err != nil {
		return false, err
	}
	idx, err := codec.Read(r, e.maxBlob, e.build)
	if err != nil {
		if isDataError(err) {
			return e.rejectBlob("deserialize", err)
		}
		return false, errors.Annotate(err, "reading blob: %w")
	}
	return e.swap("deserialize", idx)
}

// DeserializeFile loads the blob stored at path. A missing or unreadable
// file is an error; bad data yields false without error.
func (e *Engine) DeserializeFile(path string) (ok bool, err error) {
	if err = e.check("deserialize"); err != nil {
		return false, err
	}
	idx, err := codec.ReadFile(path, e.maxBlob, e.build)
	if err != nil {
		if isDataError(err) {
			return e.rejectBlob("deserialize_file", err)
		}
		return false, errors.Annotate(err, "deserializing %q: %w", path)
	}
	return e.swap("deserialize_file", idx)
}

func (e *Engine) check(op string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkLocked(op)
}

func (e *Engine) rejectBlob(op string, err error) (bool, error) {
	e.logger.Warn(map[string]any{"op": op, "error": err.Error()}, "blob_rejected")
	return false, nil
}

// swap installs idx and drops cached decisions made against the old one.
func (e *Engine) swap(op string, idx *index.Index) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(op); err != nil {
		return false, err
	}
	e.idx = idx
	if e.cache != nil {
		e.cache.Purge()
	}
	st := idx.Stats()
	e.logger.Info(map[string]any{
		"op":        op,
		"rules":     st.Rules,
		"host_keys": st.HostKeys,
		"shortcuts": st.ShortcutKeys,
		"generic":   st.Generic,
	}, "index_replaced")
	return true, nil
}

// Serialize encodes the current index.
func (e *Engine) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("serialize"); err != nil {
		return nil, err
	}
	return codec.Encode(e.idx), nil
}

// SerializeFile atomically writes the current index to path.
func (e *Engine) SerializeFile(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("serialize"); err != nil {
		return err
	}
	return codec.WriteFile(path, e.idx)
}

// EnableTag activates rules carrying $tag=tag.
func (e *Engine) EnableTag(tag string) error {
	return e.setTag(tag, true)
}

// DisableTag deactivates rules carrying $tag=tag.
func (e *Engine) DisableTag(tag string) error {
	return e.setTag(tag, false)
}

func (e *Engine) setTag(tag string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked("tag"); err != nil {
		return err
	}
	_, had := e.tags[tag]
	if had == enabled {
		return nil
	}
	if enabled {
		e.tags[tag] = struct{}{}
	} else {
		delete(e.tags, tag)
	}
	if e.cache != nil {
		e.cache.Purge()
	}
	e.logger.Debug(map[string]any{"tag": tag, "enabled": enabled}, "tag_changed")
	return nil
}

// HasTag reports whether tag is enabled.
func (e *Engine) HasTag(tag string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("tag"); err != nil {
		return false, err
	}
	_, ok := e.tags[tag]
	return ok, nil
}

// AddResource registers a redirect resource. It returns false without error
// when the resource is invalid or its name is taken.
func (e *Engine) AddResource(r domain.Resource) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked("add_resource"); err != nil {
		return false, err
	}
	if err := e.resources.Add(r); err != nil {
		e.logger.Debug(map[string]any{"name": r.Name, "error": err.Error()}, "resource_rejected")
		return false, nil
	}
	if e.cache != nil {
		e.cache.Purge()
	}
	return true, nil
}

// UseResources replaces all redirect resources with rs. Invalid entries
// are skipped and logged.
func (e *Engine) UseResources(rs []domain.Resource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked("use_resources"); err != nil {
		return err
	}
	if err := e.resources.Replace(rs); err != nil {
		e.logger.Warn(map[string]any{"error": err.Error()}, "resources_skipped")
	}
	if e.cache != nil {
		e.cache.Purge()
	}
	return nil
}

// AddResourcesFromJSON replaces all redirect resources with the bundle in
// data. Malformed JSON is an error and leaves the current resources in
// place; invalid entries are skipped and logged.
func (e *Engine) AddResourcesFromJSON(data []byte) error {
	if err := e.check("use_resources"); err != nil {
		return err
	}
	rs, err := resources.ParseJSON(data)
	if rs == nil && err != nil {
		e.logger.Error(map[string]any{"error": err.Error()}, "resources_json_invalid")
		return err
	}
	if err != nil {
		e.logger.Warn(map[string]any{"error": err.Error()}, "resources_skipped")
	}
	return e.UseResources(rs)
}

// LoadResourceDir adds every resource found in dir. Files and entries that
// fail to load are skipped and logged.
func (e *Engine) LoadResourceDir(dir string) (err error) {
	defer func() { err = errors.Annotate(err, "loading resources from %q: %w", dir) }()

	if err = e.check("add_resource"); err != nil {
		return err
	}
	rs, err := resources.LoadDir(dir)
	if rs == nil && err != nil {
		return err
	}
	if err != nil {
		e.logger.Warn(map[string]any{"dir": dir, "error": err.Error()}, "resources_skipped")
	}
	added := 0
	for _, r := range rs {
		ok, aerr := e.AddResource(r)
		if aerr != nil {
			return aerr
		}
		if ok {
			added++
		}
	}
	e.logger.Info(map[string]any{"dir": dir, "added": added, "found": len(rs)}, "resources_loaded")
	return nil
}

// Stats describes the engine's current contents.
type Stats struct {
	Index          index.Stats
	Tags           int
	Resources      int
	CacheHits      uint64
	CacheMisses    uint64
	CacheEvictions uint64
}

// Stats returns counters for the current index, tags, resources and cache.
func (e *Engine) Stats() (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLocked("stats"); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Index:     e.idx.Stats(),
		Tags:      len(e.tags),
		Resources: e.resources.Len(),
	}
	if e.cache != nil {
		st.CacheHits, st.CacheMisses, st.CacheEvictions = e.cache.Stats()
	}
	return st, nil
}

// Destroy releases the index. It is irreversible and idempotent; every
// later call other than Destroy and State fails with ErrEngineDestroyed.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDestroyed {
		return
	}
	e.state = StateDestroyed
	e.idx = nil
	e.tags = nil
	e.resources = nil
	if e.cache != nil {
		e.cache.Purge()
		e.cache = nil
	}
	if e.logger != nil {
		e.logger.Info(nil, "engine_destroyed")
	}
}
