package resource

import (
	"time"

	"github.com/restkit/restkit/logger"
	"go.uber.org/zap"
)

// StageKey names one pipeline stage.
type StageKey string

// Default stage order. Stages configured but absent from the active order
// are inert: their transformers and caches never run.
const (
	StageRawData  StageKey = "rawData"
	StageDecoding StageKey = "decoding"
	StageParsing  StageKey = "parsing"
	StageModel    StageKey = "model"
	StageCleanup  StageKey = "cleanup"
)

// EntityCache persists entities between runs, pluggable per pipeline stage.
// Implementations derive their own storage key from the resource URL and
// may opt a resource out of caching by returning ok == false. All methods
// are called off the service's locked paths and must be safe for concurrent
// use; they must not touch resource state.
type EntityCache interface {
	// Key derives the storage key for a resource URL, or ok == false to
	// skip caching for that resource.
	Key(resourceURL string) (key string, ok bool)

	// ReadEntity returns the stored entity for key, or nil when absent.
	ReadEntity(key string) (*Entity, error)

	// WriteEntity stores the entity under key.
	WriteEntity(entity *Entity, key string) error

	// UpdateEntityTimestamp refreshes the stored entity's timestamp.
	UpdateEntityTimestamp(timestamp time.Time, key string) error

	// RemoveEntity deletes the stored entity, if any.
	RemoveEntity(key string) error
}

// Transformer converts one pipeline response into the next. Transformers
// run on worker goroutines and must be stateless or internally
// synchronized. A transformer may turn a success into a failure; failures
// keep flowing through downstream stages.
type Transformer interface {
	Process(resp Response) Response
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(resp Response) Response

// Process implements Transformer.
func (f TransformerFunc) Process(resp Response) Response {
	return f(resp)
}

// PipelineStage holds an ordered list of transformers and an optional
// persistent cache binding.
type PipelineStage struct {
	transformers []Transformer
	cache        EntityCache
}

// Add appends a transformer that runs on every response passing the stage.
func (s *PipelineStage) Add(t Transformer) *PipelineStage {
	s.transformers = append(s.transformers, t)
	return s
}

// AddFor appends a transformer that runs only on successes whose content
// type matches the given pattern ("text/*", "*/json", "application/json").
func (s *PipelineStage) AddFor(contentTypePattern string, t Transformer) *PipelineStage {
	return s.Add(matchingTransformer(contentTypePattern, t, false))
}

// AddForErrors is AddFor for transformers that also process the entity of
// failure responses (server-supplied error bodies). The failure stays a
// failure; only its entity content is transformed.
func (s *PipelineStage) AddForErrors(contentTypePattern string, t Transformer) *PipelineStage {
	return s.Add(matchingTransformer(contentTypePattern, t, true))
}

// SetCache binds a persistent cache to this stage.
func (s *PipelineStage) SetCache(c EntityCache) *PipelineStage {
	s.cache = c
	return s
}

// RemoveTransformers drops all transformers, keeping any cache binding.
func (s *PipelineStage) RemoveTransformers() *PipelineStage {
	s.transformers = nil
	return s
}

// Pipeline is the ordered list of stages a raw response is folded through.
// It also reinflates resources from persistent caches: a cache hit at stage
// N is replayed through the stages strictly after N, so the result is
// indistinguishable from a fresh response that was already processed
// through N.
type Pipeline struct {
	order  []StageKey
	stages map[StageKey]*PipelineStage
}

// NewPipeline creates a pipeline with the default stage order and no
// transformers.
func NewPipeline() *Pipeline {
	return &Pipeline{
		order:  []StageKey{StageRawData, StageDecoding, StageParsing, StageModel, StageCleanup},
		stages: make(map[StageKey]*PipelineStage),
	}
}

// Stage returns the stage for key, creating it on first use. Creating a
// stage does not add it to the order; unknown keys stay inert until
// SetOrder includes them.
func (p *Pipeline) Stage(key StageKey) *PipelineStage {
	s, ok := p.stages[key]
	if !ok {
		s = &PipelineStage{}
		p.stages[key] = s
	}
	return s
}

// Order returns a copy of the active stage order.
func (p *Pipeline) Order() []StageKey {
	return append([]StageKey(nil), p.order...)
}

// SetOrder replaces the active stage order. Keys must be unique.
func (p *Pipeline) SetOrder(order []StageKey) {
	seen := make(map[StageKey]struct{}, len(order))
	deduped := make([]StageKey, 0, len(order))
	for _, key := range order {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, key)
	}
	p.order = deduped
}

// Clear removes all transformers and cache bindings from every stage.
func (p *Pipeline) Clear() {
	p.stages = make(map[StageKey]*PipelineStage)
}

// cacheBinding pairs an active stage index with its cache and the key
// derived for one resource. Keys are derived once, on the resource-owning
// context, before any background work begins.
type cacheBinding struct {
	stageIndex int
	cache      EntityCache
	key        string
}

// deriveCacheBindings computes the per-resource cache bindings for the
// active stage order. Caches that return ok == false opt the resource out.
func (p *Pipeline) deriveCacheBindings(resourceURL string) []cacheBinding {
	var bindings []cacheBinding
	for i, key := range p.order {
		s, ok := p.stages[key]
		if !ok || s.cache == nil {
			continue
		}
		cacheKey, usable := s.cache.Key(resourceURL)
		if !usable || cacheKey == "" {
			continue
		}
		bindings = append(bindings, cacheBinding{stageIndex: i, cache: s.cache, key: cacheKey})
	}
	return bindings
}

// process folds a raw response through every active stage in order. Runs on
// a worker goroutine. Stage cache writes happen here, off the owning
// context, for successful responses only.
func (p *Pipeline) process(resp Response, bindings []cacheBinding, log logger.Logger) Response {
	return p.processFrom(resp, -1, bindings, log)
}

// processFrom folds resp through the stages with index > after. A failure
// produced by one stage still flows through the remaining stages.
func (p *Pipeline) processFrom(resp Response, after int, bindings []cacheBinding, log logger.Logger) Response {
	for i, key := range p.order {
		if i <= after {
			continue
		}
		s, ok := p.stages[key]
		if !ok {
			continue
		}
		for _, t := range s.transformers {
			resp = t.Process(resp)
		}
		if resp.IsSuccess() {
			if b := bindingAt(bindings, i); b != nil {
				if err := b.cache.WriteEntity(resp.Entity(), b.key); err != nil {
					log.Warn("cache write failed",
						zap.String("stage", string(key)),
						zap.String("key", b.key),
						zap.Error(err),
					)
				}
			}
		}
	}
	return resp
}

// cachedEntity searches the stage caches most-downstream first and replays
// the stages strictly after the hit through the transformers, so an early
// hit still receives later-stage processing. A replay that fails discards
// the hit and falls through to an earlier stage; this is deliberate policy,
// not an accident. Returns ok == false when no stage yields a usable hit.
func (p *Pipeline) cachedEntity(bindings []cacheBinding, log logger.Logger) (*Entity, bool) {
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		entity, err := b.cache.ReadEntity(b.key)
		if err != nil {
			log.Warn("cache read failed", zap.String("key", b.key), zap.Error(err))
			continue
		}
		if entity == nil {
			continue
		}
		replayed := p.processFrom(NewDataResponse(entity), b.stageIndex, bindings, log)
		if replayed.IsSuccess() {
			return replayed.Entity(), true
		}
		log.Debug("discarding cached entity after replay failure",
			zap.String("key", b.key),
			zap.String("reason", replayed.Failure().UserMessage),
		)
	}
	return nil, false
}

// removeCacheEntries deletes this resource's entry from every bound cache.
func (p *Pipeline) removeCacheEntries(bindings []cacheBinding, log logger.Logger) {
	for _, b := range bindings {
		if err := b.cache.RemoveEntity(b.key); err != nil {
			log.Warn("cache remove failed", zap.String("key", b.key), zap.Error(err))
		}
	}
}

// updateCacheEntryTimestamps refreshes this resource's entry timestamp in
// every bound cache, after a 304 confirmed the content is still current.
func (p *Pipeline) updateCacheEntryTimestamps(ts time.Time, bindings []cacheBinding, log logger.Logger) {
	for _, b := range bindings {
		if err := b.cache.UpdateEntityTimestamp(ts, b.key); err != nil {
			log.Warn("cache timestamp update failed", zap.String("key", b.key), zap.Error(err))
		}
	}
}

func bindingAt(bindings []cacheBinding, stageIndex int) *cacheBinding {
	for i := range bindings {
		if bindings[i].stageIndex == stageIndex {
			return &bindings[i]
		}
	}
	return nil
}
