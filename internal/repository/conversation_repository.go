package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

type ConversationRepository interface {
	// Find resolves the pair in either order.
	Find(ctx context.Context, a, b string) (*model.Conversation, error)
	// GetOrCreate 按规范顺序查找或创建会话
	GetOrCreate(ctx context.Context, a, b string) (*model.Conversation, bool, error)
	AddMessage(ctx context.Context, m *model.Message) error
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Find(ctx context.Context, a, b string) (*model.Conversation, error) {
	p1, p2 := model.CanonicalPair(a, b)
	return firstOrNil[model.Conversation](r.db.WithContext(ctx).
		Where("participant_1 = ? AND participant_2 = ?", p1, p2))
}

func (r *conversationRepository) GetOrCreate(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	p1, p2 := model.CanonicalPair(a, b)
	conv := &model.Conversation{ID: uuid.New().String(), Participant1: p1, Participant2: p2}
	created, err := insertIgnore(r.db.WithContext(ctx), conv)
	if err != nil {
		return nil, false, err
	}
	if created {
		return conv, true, nil
	}
	existing, err := r.Find(ctx, p1, p2)
	return existing, false, err
}

func (r *conversationRepository) AddMessage(ctx context.Context, m *model.Message) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(m).Error; err != nil {
		return err
	}
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return db.Model(&model.Conversation{}).Where("id = ?", m.ConversationID).
		Update("last_message_at", at).Error
}
