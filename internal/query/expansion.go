package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/llm"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
)

// Expander produces alternative phrasings of a query via the LLM,
// caching results per exact query string.
type Expander struct {
	llm    llm.Provider
	max    int
	cache  *expirable.LRU[string, []string]
	logger *logging.Logger
}

// NewExpander builds an expander with an in-process TTL cache.
func NewExpander(provider llm.Provider, cfg config.QueryConfig, logger *logging.Logger) *Expander {
	size := cfg.ExpansionCacheSize
	if size <= 0 {
		size = 256
	}
	max := cfg.MaxQueryVariants
	if max <= 0 {
		max = 3
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Expander{
		llm:    provider,
		max:    max,
		cache:  expirable.NewLRU[string, []string](size, nil, cfg.ExpansionCacheTTL.Duration()),
		logger: logger,
	}
}

// Variants returns up to max alternative phrasings, never including the
// original query. Any LLM failure degrades to no variants.
func (e *Expander) Variants(ctx context.Context, query string) []string {
	if cached, ok := e.cache.Get(query); ok {
		return cached
	}

	answer, err := e.llm.Complete(ctx, expansionPrompt(query, e.max))
	if err != nil {
		e.logger.Debug(ctx, "query expansion degraded", zap.Error(err))
		return nil
	}

	variants := parseVariants(answer, query, e.max)
	e.cache.Add(query, variants)
	return variants
}

func expansionPrompt(query string, max int) string {
	return fmt.Sprintf(`Generate up to %d alternative phrasings of the search query below.
Cover synonyms, expanded abbreviations, and more or less formal wording.
Return one phrasing per line with no numbering or commentary.

Query: %s`, max, query)
}

// parseVariants cleans the completion into distinct variants, dropping
// echoes of the original query.
func parseVariants(answer, original string, max int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var variants []string
	for _, line := range strings.Split(answer, "\n") {
		v := strings.TrimSpace(line)
		v = strings.TrimLeft(v, "-*0123456789.) ")
		v = strings.Trim(v, `"`)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		variants = append(variants, v)
		if len(variants) == max {
			break
		}
	}
	return variants
}
