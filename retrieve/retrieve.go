// Package retrieve implements adaptive retrieval: queries are classified
// into one of four categories and each category runs its own strategy
// ladder. Ladders degrade step by step down to plain similarity search, and
// the retriever as a whole never returns an error.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sweetpotato0/adaptiverag/corpus"
	"github.com/sweetpotato0/adaptiverag/grader"
	"github.com/sweetpotato0/adaptiverag/index"
	"github.com/sweetpotato0/adaptiverag/oracle"
	"github.com/sweetpotato0/adaptiverag/pkg/logging"
)

const (
	// DefaultK is the result count when the caller does not specify one.
	DefaultK = 4
	// OpinionK caps opinion retrieval at fewer, more distinct viewpoints.
	OpinionK = 3
	// perSubQuery is how many chunks each sub-question or viewpoint contributes.
	perSubQuery = 2
	// DefaultUserContext stands in when no session context is available.
	DefaultUserContext = "No specific context provided"
)

// strategy is one rung of a fallback ladder. It returns the chunks it found;
// an error or empty result moves the ladder to the next rung.
type strategy func(ctx context.Context) ([]corpus.Chunk, error)

// Retriever classifies queries and dispatches them to category strategies.
type Retriever struct {
	index        *index.Index
	oracle       *oracle.Oracle
	grader       *grader.Grader
	numNeighbors int
	logger       *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithNumNeighbors sets how many positional neighbors context expansion
// pulls on each side of the best match.
func WithNumNeighbors(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.numNeighbors = n
		}
	}
}

// New creates a Retriever over the given index and oracle.
func New(idx *index.Index, o *oracle.Oracle, g *grader.Grader, opts ...Option) *Retriever {
	r := &Retriever{
		index:        idx,
		oracle:       o,
		grader:       g,
		numNeighbors: 1,
		logger:       logging.WithComponent("retrieve"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most k chunks for the query. k <= 0 selects the
// category default. The method never returns an error; when everything
// fails it returns an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, userContext string) []corpus.Chunk {
	category := r.grader.ClassifyQuery(ctx, query)
	if k <= 0 {
		k = DefaultK
		if category == grader.CategoryOpinion {
			k = OpinionK
		}
	}
	r.logger.Info("retrieving", "category", category, "k", k)

	var ladder []strategy
	switch category {
	case grader.CategoryFactual:
		ladder = r.factualLadder(query, k)
	case grader.CategoryAnalytical:
		ladder = r.analyticalLadder(query, k)
	case grader.CategoryOpinion:
		ladder = r.opinionLadder(query, k)
	case grader.CategoryContextual:
		ladder = r.contextualLadder(query, k, userContext)
	default:
		// Categories outside the known set get no specialized ladder,
		// only the plain search appended below.
		ladder = nil
	}
	ladder = append(ladder, r.plainStrategy(query, k))

	for _, step := range ladder {
		chunks, err := r.runStrategy(ctx, step)
		if err != nil {
			r.logger.Warn("retrieval strategy failed, falling back", "category", category, "error", err)
			continue
		}
		if len(chunks) > 0 {
			if len(chunks) > k {
				chunks = chunks[:k]
			}
			return chunks
		}
	}
	return nil
}

// runStrategy executes one ladder rung, converting panics into errors so a
// misbehaving branch can never take down the caller.
func (r *Retriever) runStrategy(ctx context.Context, step strategy) (chunks []corpus.Chunk, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			chunks = nil
			err = fmt.Errorf("retrieval strategy panicked: %v", rec)
		}
	}()
	return step(ctx)
}

// factualLadder: enhance the query, try context expansion, then ranked search.
func (r *Retriever) factualLadder(query string, k int) []strategy {
	return []strategy{
		func(ctx context.Context) ([]corpus.Chunk, error) {
			enhanced := r.enhanceQuery(ctx, query)
			return r.contextExpansion(ctx, enhanced)
		},
		func(ctx context.Context) ([]corpus.Chunk, error) {
			enhanced := r.enhanceQuery(ctx, query)
			return r.rankedSearch(ctx, enhanced, k)
		},
	}
}

// analyticalLadder: decompose into sub-questions, pool, select diverse.
func (r *Retriever) analyticalLadder(query string, k int) []strategy {
	return []strategy{
		func(ctx context.Context) ([]corpus.Chunk, error) {
			subQueries, err := r.oracle.Items(ctx, oracle.TmplSubQueries, map[string]any{
				"query": query, "k": k,
			})
			if err != nil || len(subQueries) == 0 {
				return nil, fmt.Errorf("sub-query generation failed: %w", err)
			}
			pool := r.fanOut(ctx, subQueries)
			return r.selectFromPool(ctx, oracle.TmplSelectDiverse, query, pool, k), nil
		},
	}
}

// opinionLadder: enumerate viewpoints, pool, select representative.
func (r *Retriever) opinionLadder(query string, k int) []strategy {
	return []strategy{
		func(ctx context.Context) ([]corpus.Chunk, error) {
			viewpoints, err := r.oracle.Items(ctx, oracle.TmplViewpoints, map[string]any{
				"query": query, "k": k,
			})
			if err != nil || len(viewpoints) == 0 {
				return nil, fmt.Errorf("viewpoint generation failed: %w", err)
			}
			queries := make([]string, len(viewpoints))
			for i, vp := range viewpoints {
				queries[i] = query + " " + vp
			}
			pool := r.fanOut(ctx, queries)
			return r.selectFromPool(ctx, oracle.TmplSelectOpinions, query, pool, k), nil
		},
	}
}

// contextualLadder: fold user context into the query, expand, then score all.
func (r *Retriever) contextualLadder(query string, k int, userContext string) []strategy {
	if strings.TrimSpace(userContext) == "" {
		userContext = DefaultUserContext
	}
	reformulate := func(ctx context.Context) string {
		reformulated, err := r.oracle.Completion(ctx, oracle.TmplContextualize, map[string]any{
			"query": query, "context": userContext,
		})
		if err != nil || strings.TrimSpace(reformulated) == "" {
			return query
		}
		return strings.TrimSpace(reformulated)
	}
	return []strategy{
		func(ctx context.Context) ([]corpus.Chunk, error) {
			return r.contextExpansion(ctx, reformulate(ctx))
		},
		func(ctx context.Context) ([]corpus.Chunk, error) {
			return r.rankedSearch(ctx, reformulate(ctx), k)
		},
	}
}

// plainStrategy is the last rung of every ladder.
func (r *Retriever) plainStrategy(query string, k int) strategy {
	return func(ctx context.Context) ([]corpus.Chunk, error) {
		scored, err := r.index.Search(ctx, query, k)
		if err != nil {
			return nil, err
		}
		chunks := make([]corpus.Chunk, len(scored))
		for i, sc := range scored {
			chunks[i] = sc.Chunk
		}
		return chunks, nil
	}
}

// enhanceQuery asks the oracle for a retrieval-friendly rephrasing; the
// original query survives any failure.
func (r *Retriever) enhanceQuery(ctx context.Context, query string) string {
	enhanced, err := r.oracle.Completion(ctx, oracle.TmplEnhanceQuery, map[string]any{
		"query": query,
	})
	if err != nil || strings.TrimSpace(enhanced) == "" {
		return query
	}
	return strings.TrimSpace(enhanced)
}

// contextExpansion fetches the single best match and widens it with its
// positional neighbors from the same document, in ordinal order.
func (r *Retriever) contextExpansion(ctx context.Context, query string) ([]corpus.Chunk, error) {
	scored, err := r.index.Search(ctx, query, 1)
	if err != nil {
		return nil, fmt.Errorf("context expansion search failed: %w", err)
	}
	if len(scored) == 0 {
		return nil, nil
	}
	best := scored[0].Chunk

	neighbors := r.index.Neighbors(best.ID, r.numNeighbors)
	window := append(neighbors, best)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Ordinal < window[j].Ordinal
	})
	return window, nil
}

// rankedSearch pulls a 2k candidate pool and reranks it by oracle score.
func (r *Retriever) rankedSearch(ctx context.Context, query string, k int) ([]corpus.Chunk, error) {
	scored, err := r.index.Search(ctx, query, 2*k)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}

	type ranked struct {
		chunk corpus.Chunk
		score float64
	}
	candidates := make([]ranked, len(scored))
	for i, sc := range scored {
		candidates[i] = ranked{
			chunk: sc.Chunk,
			score: r.grader.RelevanceScore(ctx, query, sc.Chunk.Content),
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	chunks := make([]corpus.Chunk, len(candidates))
	for i, c := range candidates {
		chunks[i] = c.chunk
	}
	return chunks, nil
}

// fanOut retrieves perSubQuery chunks for each query concurrently and pools
// the results, deduplicated by chunk ID in query order. Each sub-retrieval
// is independent, so completion order does not affect the pool contents.
func (r *Retriever) fanOut(ctx context.Context, queries []string) []corpus.Chunk {
	results := make([][]corpus.Chunk, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			chunks, err := r.contextExpansion(ctx, q)
			if err != nil || len(chunks) == 0 {
				if scored, serr := r.index.Search(ctx, q, perSubQuery); serr == nil {
					chunks = chunks[:0]
					for _, sc := range scored {
						chunks = append(chunks, sc.Chunk)
					}
				}
			}
			if len(chunks) > perSubQuery {
				chunks = chunks[:perSubQuery]
			}
			results[i] = chunks
		}(i, q)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var pool []corpus.Chunk
	for _, chunks := range results {
		for _, c := range chunks {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			pool = append(pool, c)
		}
	}
	return pool
}

// selectFromPool asks the oracle to pick k indices from the pool; indices
// out of range are dropped. A failed selection keeps the first k entries.
func (r *Retriever) selectFromPool(ctx context.Context, tmpl, query string, pool []corpus.Chunk, k int) []corpus.Chunk {
	if len(pool) == 0 {
		return nil
	}
	if len(pool) <= k {
		return pool
	}

	var sb strings.Builder
	for i, c := range pool {
		fmt.Fprintf(&sb, "[%d] %s\n", i, c.Content)
	}
	indices, err := r.oracle.Indices(ctx, tmpl, map[string]any{
		"query": query, "documents": sb.String(), "k": k,
	})
	if err != nil || len(indices) == 0 {
		r.logger.Warn("pool selection failed, keeping head of pool", "error", err)
		return pool[:k]
	}

	var selected []corpus.Chunk
	for _, idx := range indices {
		if idx < 0 || idx >= len(pool) {
			continue
		}
		selected = append(selected, pool[idx])
		if len(selected) == k {
			break
		}
	}
	if len(selected) == 0 {
		return pool[:k]
	}
	return selected
}
