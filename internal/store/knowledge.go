package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// KnowledgeStore retrieves tenant knowledge snippets for prompt grounding.
// Relevance is a case-insensitive term match; good enough for short FAQ-style
// chunks, and the orchestrator only ever asks for a handful.
type KnowledgeStore struct {
	db *gorm.DB
}

// NewKnowledgeStore creates a knowledge store.
func NewKnowledgeStore(db *gorm.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Search returns up to limit snippets relevant to the query.
func (s *KnowledgeStore) Search(ctx context.Context, tenantID, query string, limit int) ([]string, error) {
	terms := searchTerms(query)

	q := s.db.WithContext(ctx).Model(&model.KnowledgeChunk{}).
		Where("tenant_id = ?", tenantID)

	if len(terms) > 0 {
		cond := s.db.Where("content ILIKE ?", "%"+terms[0]+"%")
		for _, t := range terms[1:] {
			cond = cond.Or("content ILIKE ?", "%"+t+"%")
		}
		q = q.Where(cond)
	}

	var chunks []model.KnowledgeChunk
	if err := q.Order("created_at DESC").Limit(limit).Find(&chunks).Error; err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(chunks))
	for _, c := range chunks {
		snippets = append(snippets, c.Content)
	}
	return snippets, nil
}

// searchTerms keeps words long enough to be discriminating.
func searchTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?:;\"'")
		if len(w) >= 4 {
			terms = append(terms, w)
		}
	}
	return terms
}
