package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// Op is one index write implied by a record.
//
// A post op carries its Author. An op with an Author and no ID covers every
// live post by that author: a moderation block tombstones them and lifting
// it restores them.
type Op struct {
	Kind      string
	ID        string
	Author    string
	Title     string
	Body      string
	Tombstone bool
}

// Plan maps a record to index writes. Visibility changes become tombstones,
// never deletes.
func Plan(rec *model.MutationRecord) []Op {
	p := rec.Data()
	switch rec.Type {
	case model.RecordCreateAccount, model.RecordUpdateProfile:
		return []Op{accountOp(rec.PrimaryID, p)}
	case model.RecordSetAccountFlags:
		if p.Flags == nil {
			return nil
		}
		wasBlocked := p.PrevFlags != nil && p.PrevFlags.Blocked
		if p.Flags.Blocked == wasBlocked {
			return nil
		}
		if p.Flags.Blocked {
			return []Op{
				{Kind: model.KindAccount, ID: rec.PrimaryID, Tombstone: true},
				{Kind: model.KindPost, Author: rec.PrimaryID, Tombstone: true},
			}
		}
		return []Op{accountOp(rec.PrimaryID, p), {Kind: model.KindPost, Author: rec.PrimaryID}}
	case model.RecordCreatePost:
		return []Op{{Kind: model.KindPost, ID: p.PostID, Author: p.AuthorID, Body: p.Content}}
	case model.RecordEditPost:
		if p.ContentChanged {
			return []Op{{Kind: model.KindPost, ID: p.PostID, Author: p.AuthorID, Body: p.Content}}
		}
	case model.RecordDeletePost:
		return []Op{{Kind: model.KindPost, ID: p.PostID, Tombstone: true}}
	case model.RecordCreateGroup, model.RecordUpdateGroup:
		return []Op{{Kind: model.KindGroup, ID: p.GroupID, Title: p.GroupName, Body: p.GroupDescription}}
	case model.RecordDeleteGroup:
		return []Op{{Kind: model.KindGroup, ID: p.GroupID, Tombstone: true}}
	}
	return nil
}

func accountOp(id string, p model.RecordPayload) Op {
	title := p.DisplayName
	if p.Handle != "" {
		title = strings.TrimSpace("@" + p.Handle + " " + p.DisplayName)
	}
	return Op{Kind: model.KindAccount, ID: id, Title: title, Body: p.Bio}
}

// Indexer 搜索投影消费者
type Indexer struct {
	sanitizer *bluemonday.Policy
	mirror    Mirror
}

// NewIndexer builds the consumer. mirror may be nil.
func NewIndexer(mirror Mirror) *Indexer {
	return &Indexer{sanitizer: bluemonday.StrictPolicy(), mirror: mirror}
}

func (ix *Indexer) Name() string { return "search" }

// Handle applies the record's index writes. Each write only lands when the
// record is newer than what the entry already reflects.
func (ix *Indexer) Handle(ctx context.Context, tx *gorm.DB, rec *model.MutationRecord) error {
	for _, op := range Plan(rec) {
		if op.ID == "" {
			if err := ix.writeAuthorPosts(ctx, tx, rec.Seq, op); err != nil {
				return err
			}
			continue
		}
		if op.Kind == model.KindPost && op.Author != "" && !op.Tombstone {
			// a post delivered after its author was moderation-blocked
			// lands hidden, with its text kept for the restore
			blocked, err := authorBlocked(ctx, tx, op.Author)
			if err != nil {
				return err
			}
			op.Tombstone = blocked
		}
		applied, entry, err := ix.write(ctx, tx, rec.Seq, op)
		if err != nil {
			return err
		}
		if !applied || ix.mirror == nil {
			continue
		}
		// mirror failure rolls back the delivery; it is retried with the record
		if err := ix.mirror.Upsert(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) write(ctx context.Context, tx *gorm.DB, seq int64, op Op) (bool, model.SearchIndexEntry, error) {
	now := time.Now().UTC()
	entry := model.SearchIndexEntry{
		EntityKind: op.Kind,
		EntityID:   op.ID,
		Title:      ix.clean(op.Title),
		Body:       ix.clean(op.Body),
		Tombstoned: op.Tombstone,
		SourceSeq:  seq,
		UpdatedAt:  now,
	}
	update := []string{"title", "body", "tombstoned", "tombstoned_at", "source_seq", "updated_at"}
	if op.Tombstone {
		entry.TombstonedAt = &now
		if op.Body == "" {
			// keep the last indexed text for audit
			update = []string{"tombstoned", "tombstoned_at", "source_seq", "updated_at"}
		}
	}

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_kind"}, {Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns(update),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("search_index_entries.source_seq < excluded.source_seq"),
		}},
	}).Create(&entry)
	if res.Error != nil {
		return false, entry, res.Error
	}
	if res.RowsAffected == 0 {
		return false, entry, nil
	}
	if op.Tombstone {
		// the mirror needs the surviving text, not the empty tombstone body
		var stored model.SearchIndexEntry
		if err := tx.WithContext(ctx).Where("entity_kind = ? AND entity_id = ?", op.Kind, op.ID).Take(&stored).Error; err != nil {
			return false, entry, err
		}
		entry = stored
	}
	return true, entry, nil
}

// writeAuthorPosts flips the tombstone on every entry of a live post by
// op.Author. Deleted posts stay tombstoned when a block is lifted.
func (ix *Indexer) writeAuthorPosts(ctx context.Context, tx *gorm.DB, seq int64, op Op) error {
	now := time.Now().UTC()
	var tombstonedAt *time.Time
	if op.Tombstone {
		tombstonedAt = &now
	}
	posts := tx.Model(&model.Post{}).Select("id").Where("author_id = ? AND deleted_at IS NULL", op.Author)
	scope := func() *gorm.DB {
		return tx.WithContext(ctx).Model(&model.SearchIndexEntry{}).
			Where("entity_kind = ? AND entity_id IN (?)", model.KindPost, posts)
	}
	res := scope().Where("source_seq < ?", seq).Updates(map[string]any{
		"tombstoned":    op.Tombstone,
		"tombstoned_at": tombstonedAt,
		"source_seq":    seq,
		"updated_at":    now,
	})
	if res.Error != nil || res.RowsAffected == 0 || ix.mirror == nil {
		return res.Error
	}
	var changed []model.SearchIndexEntry
	if err := scope().Where("source_seq = ?", seq).Find(&changed).Error; err != nil {
		return err
	}
	for _, e := range changed {
		if err := ix.mirror.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func authorBlocked(ctx context.Context, tx *gorm.DB, authorID string) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Account{}).
		Where("id = ? AND blocked = ?", authorID, true).
		Count(&n).Error
	return n > 0, err
}

func (ix *Indexer) clean(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(ix.sanitizer.Sanitize(s))
}

// Lookup distinguishes never indexed (NotFound) from removed (Tombstoned).
func Lookup(ctx context.Context, db *gorm.DB, kind, id string) (*model.SearchIndexEntry, error) {
	var e model.SearchIndexEntry
	err := db.WithContext(ctx).Where("entity_kind = ? AND entity_id = ?", kind, id).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("%s %s was never indexed", kind, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
