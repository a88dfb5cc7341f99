package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 聚合存储：同一个 *gorm.DB 上的全部仓储
type Store struct {
	db *gorm.DB

	Accounts      AccountRepository
	Relations     RelationRepository
	Posts         PostRepository
	Engagements   EngagementRepository
	Groups        GroupRepository
	Conversations ConversationRepository
	Records       RecordRepository
	Feeds         FeedRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Accounts:      NewAccountRepository(db),
		Relations:     NewRelationRepository(db),
		Posts:         NewPostRepository(db),
		Engagements:   NewEngagementRepository(db),
		Groups:        NewGroupRepository(db),
		Conversations: NewConversationRepository(db),
		Records:       NewRecordRepository(db),
		Feeds:         NewFeedRepository(db),
	}
}

// DB returns the handle the store is bound to (a transaction inside
// Transaction callbacks).
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn with a Store bound to one database transaction.
// Never touch the outer store inside fn: SQLite runs with a single connection.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// insertIgnore 幂等写入：唯一键冲突时不报错，返回是否真正插入
func insertIgnore(db *gorm.DB, row any) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// forUpdate adds a row lock on dialects that support it. SQLite serializes
// writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// firstOrNil maps ErrRecordNotFound to a nil result.
func firstOrNil[T any](db *gorm.DB) (*T, error) {
	var out T
	err := db.Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
