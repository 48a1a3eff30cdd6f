package listings

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error)
}

// Match is a listing with its similarity to the query.
type Match struct {
	Listing *Listing
	Score   float64
}

// Retriever finds the listings most relevant to a buyer message.
type Retriever interface {
	Search(ctx context.Context, companyID, query string, k int) ([]Match, error)
}

// RenderContext joins match summaries into the agent's context block.
func RenderContext(matches []Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := m.Listing.Summary(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

type indexedListing struct {
	listing   *Listing
	embedding []float32
}

// VectorIndex keeps listing embeddings in memory per company and answers
// cosine top-K queries. A company's listings are embedded on first use.
type VectorIndex struct {
	embedder Embedder
	model    string
	repo     Repository
	logger   *logging.Logger

	mu     sync.RWMutex
	byCo   map[string]map[string]indexedListing
	loaded map[string]bool
}

var _ Retriever = (*VectorIndex)(nil)

func NewVectorIndex(embedder Embedder, model string, repo Repository, logger *logging.Logger) *VectorIndex {
	if embedder == nil {
		panic("listings: embedder cannot be nil")
	}
	if repo == nil {
		panic("listings: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &VectorIndex{
		embedder: embedder,
		model:    model,
		repo:     repo,
		logger:   logger,
		byCo:     make(map[string]map[string]indexedListing),
		loaded:   make(map[string]bool),
	}
}

// Index embeds one listing and replaces any previous entry for it.
func (v *VectorIndex) Index(ctx context.Context, l *Listing) error {
	if l == nil {
		return nil
	}
	vecs, err := v.embedder.Embed(ctx, v.model, []string{l.Summary()})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return errors.New("listings: embedding response size mismatch")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.byCo[l.CompanyID] == nil {
		v.byCo[l.CompanyID] = make(map[string]indexedListing)
	}
	v.byCo[l.CompanyID][l.ID] = indexedListing{listing: l.clone(), embedding: vecs[0]}
	return nil
}

func (v *VectorIndex) warm(ctx context.Context, companyID string) error {
	v.mu.RLock()
	done := v.loaded[companyID]
	v.mu.RUnlock()
	if done {
		return nil
	}

	all, err := v.repo.ListByCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if len(all) > 0 {
		texts := make([]string, len(all))
		for i, l := range all {
			texts[i] = l.Summary()
		}
		vecs, err := v.embedder.Embed(ctx, v.model, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(all) {
			return errors.New("listings: embedding response size mismatch")
		}
		v.mu.Lock()
		if v.byCo[companyID] == nil {
			v.byCo[companyID] = make(map[string]indexedListing)
		}
		for i, l := range all {
			if _, ok := v.byCo[companyID][l.ID]; !ok {
				v.byCo[companyID][l.ID] = indexedListing{listing: l, embedding: vecs[i]}
			}
		}
		v.mu.Unlock()
	}
	v.logger.Debug("listing index warmed", "company_id", companyID, "listings", len(all))

	v.mu.Lock()
	v.loaded[companyID] = true
	v.mu.Unlock()
	return nil
}

// Search returns up to k listings of companyID ordered by similarity.
func (v *VectorIndex) Search(ctx context.Context, companyID, query string, k int) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 3
	}
	if err := v.warm(ctx, companyID); err != nil {
		return nil, err
	}

	v.mu.RLock()
	candidates := make([]indexedListing, 0, len(v.byCo[companyID]))
	for _, doc := range v.byCo[companyID] {
		candidates = append(candidates, doc)
	}
	v.mu.RUnlock()
	if len(candidates) == 0 {
		return nil, nil
	}

	vecs, err := v.embedder.Embed(ctx, v.model, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	results := make([]Match, 0, len(candidates))
	for _, doc := range candidates {
		results = append(results, Match{Listing: doc.listing.clone(), Score: cosineSimilarity(vecs[0], doc.embedding)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Listing.ID < results[j].Listing.ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
