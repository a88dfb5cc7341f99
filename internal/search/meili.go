package search

import (
	"context"
	"fmt"

	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// Mirror receives every index entry that changed.
type Mirror interface {
	Upsert(ctx context.Context, entry model.SearchIndexEntry) error
}

var indexByKind = map[string]string{
	model.KindPost:    "posts",
	model.KindAccount: "accounts",
	model.KindGroup:   "groups",
}

type meiliDoc struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Tombstoned bool   `json:"tombstoned"`
	SourceSeq  int64  `json:"source_seq"`
	UpdatedAt  int64  `json:"updated_at"`
}

// MeiliMirror 把索引项同步到 Meilisearch
type MeiliMirror struct {
	client meilisearch.ServiceManager
}

func NewMeiliMirror(host, apiKey string) *MeiliMirror {
	return &MeiliMirror{client: meilisearch.New(host, meilisearch.WithAPIKey(apiKey))}
}

// Setup makes tombstoned filterable so the query layer can hide removed
// documents. Failures are logged; documents still index without it.
func (m *MeiliMirror) Setup() {
	filterable := []any{"tombstoned"}
	sortable := []string{"updated_at"}
	for _, uid := range indexByKind {
		if _, err := m.client.Index(uid).UpdateFilterableAttributes(&filterable); err != nil {
			logger.Warn("meilisearch filterable attributes", zap.String("index", uid), zap.Error(err))
		}
		if _, err := m.client.Index(uid).UpdateSortableAttributes(&sortable); err != nil {
			logger.Warn("meilisearch sortable attributes", zap.String("index", uid), zap.Error(err))
		}
	}
}

func (m *MeiliMirror) Upsert(_ context.Context, e model.SearchIndexEntry) error {
	uid, ok := indexByKind[e.EntityKind]
	if !ok {
		return fmt.Errorf("no meilisearch index for kind %q", e.EntityKind)
	}
	doc := meiliDoc{
		ID:         e.EntityID,
		Title:      e.Title,
		Body:       e.Body,
		Tombstoned: e.Tombstoned,
		SourceSeq:  e.SourceSeq,
		UpdatedAt:  e.UpdatedAt.Unix(),
	}
	if _, err := m.client.Index(uid).AddDocuments([]meiliDoc{doc}, strPtr("id")); err != nil {
		return fmt.Errorf("meilisearch add %s/%s: %w", uid, e.EntityID, err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
