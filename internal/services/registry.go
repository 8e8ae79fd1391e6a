// Package services owns construction and lifetime of the domain
// singletons. Both protocol adapters receive the same registry, so
// they observe identical state.
package services

import (
	"context"

	"github.com/fyrsmithlabs/shelfd/internal/chunking"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/crawl"
	"github.com/fyrsmithlabs/shelfd/internal/embeddings"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/query"
	"github.com/fyrsmithlabs/shelfd/internal/reranker"
	"github.com/fyrsmithlabs/shelfd/internal/secrets"
	"github.com/fyrsmithlabs/shelfd/internal/store"
	"github.com/fyrsmithlabs/shelfd/internal/usecase"
	"github.com/fyrsmithlabs/shelfd/internal/vectorstore"
	"github.com/fyrsmithlabs/shelfd/internal/vsync"
)

// Registry provides access to the shared service instances.
type Registry interface {
	Store() store.CollectionStore
	Vectors() vectorstore.Store
	Embedder() embeddings.Provider
	LLM() llm.Provider
	Usecase() *usecase.Service
	Scrubber() secrets.Scrubber
	Close() error
}

// Options carries pre-built service instances.
type Options struct {
	Store    store.CollectionStore
	Vectors  vectorstore.Store
	Embedder embeddings.Provider
	LLM      llm.Provider
	Usecase  *usecase.Service
	Scrubber secrets.Scrubber
}

type registry struct {
	store    store.CollectionStore
	vectors  vectorstore.Store
	embedder embeddings.Provider
	llm      llm.Provider
	usecase  *usecase.Service
	scrubber secrets.Scrubber
	poller   *store.Poller
}

// NewRegistry wraps pre-built instances.
func NewRegistry(opts Options) Registry {
	return &registry{
		store:    opts.Store,
		vectors:  opts.Vectors,
		embedder: opts.Embedder,
		llm:      opts.LLM,
		usecase:  opts.Usecase,
		scrubber: opts.Scrubber,
	}
}

// Build constructs every service from configuration. The LLM provider
// is optional; expansion, reranking, and RAG degrade without it.
func Build(cfg *config.Config, logger *logging.Logger) (Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	zlog := logger.Underlying()

	cs, err := store.New(cfg, zlog)
	if err != nil {
		return nil, err
	}

	// Filesystem collections can be edited outside the API; a poller keeps
	// the sidecar metadata consistent between syncs.
	var poller *store.Poller
	if fs, ok := cs.(*store.FSStore); ok {
		if interval := cfg.Store.ReconcileInterval.Duration(); interval > 0 {
			poller, err = store.NewPoller(fs, interval, zlog)
			if err != nil {
				cs.Close()
				return nil, err
			}
			go poller.Run(context.Background())
		}
	}

	cleanup := func(closers ...func() error) {
		if poller != nil {
			poller.Stop()
		}
		for _, c := range closers {
			_ = c()
		}
	}

	vs, err := vectorstore.New(cfg, zlog)
	if err != nil {
		cleanup(cs.Close)
		return nil, err
	}
	embedder, err := embeddings.New(cfg.Embedding)
	if err != nil {
		cleanup(cs.Close, vs.Close)
		return nil, err
	}
	llmProvider, err := llm.New(cfg.LLM, zlog)
	if err != nil {
		cleanup(cs.Close, vs.Close)
		return nil, err
	}

	var rr reranker.Reranker
	if cfg.Query.AutoRerankingEnabled {
		if llmProvider != nil {
			rr = reranker.NewLLM(llmProvider)
		} else {
			rr = reranker.NewSimple()
		}
	}

	chunker := chunking.New(chunking.Config{
		Strategy:           chunking.Strategy(cfg.Chunking.Strategy),
		ChunkSize:          cfg.Chunking.ChunkSize,
		OverlapRatio:       cfg.Chunking.ChunkOverlapRatio,
		PreserveCodeBlocks: cfg.Chunking.PreserveCodeBlock,
		MaxHeaderDepth:     cfg.Chunking.MaxHeaderDepth,
	})

	coordinator := vsync.New(cs, vs, embedder, chunker, cfg.Sync, logger)
	pipeline := query.New(cs, vs, embedder, llmProvider, rr, cfg.Query, logger)
	crawler := crawl.New(cfg.Crawl, logger)
	scrubber, err := secrets.New(secrets.DefaultConfig())
	if err != nil {
		cleanup(cs.Close, vs.Close)
		return nil, err
	}

	return &registry{
		store:    cs,
		vectors:  vs,
		embedder: embedder,
		llm:      llmProvider,
		usecase:  usecase.New(cs, coordinator, pipeline, crawler, logger),
		scrubber: scrubber,
		poller:   poller,
	}, nil
}

func (r *registry) Store() store.CollectionStore  { return r.store }
func (r *registry) Vectors() vectorstore.Store    { return r.vectors }
func (r *registry) Embedder() embeddings.Provider { return r.embedder }
func (r *registry) LLM() llm.Provider             { return r.llm }
func (r *registry) Usecase() *usecase.Service     { return r.usecase }
func (r *registry) Scrubber() secrets.Scrubber    { return r.scrubber }

// Close releases stores and providers in reverse construction order.
func (r *registry) Close() error {
	var firstErr error
	if r.poller != nil {
		r.poller.Stop()
	}
	if r.llm != nil {
		if err := r.llm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.vectors != nil {
		if err := r.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
