package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

type PostRepository interface {
	Create(ctx context.Context, p *model.Post) error
	// Find returns nil when absent; soft-deleted posts are returned.
	Find(ctx context.Context, id string) (*model.Post, error)
	// FindForUpdate locks the row for the rest of the transaction.
	FindForUpdate(ctx context.Context, id string) (*model.Post, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	// Children returns the direct replies of any of the given posts.
	Children(ctx context.Context, parentIDs []string) ([]model.Post, error)
	AddAttachments(ctx context.Context, atts []model.Attachment) error
	Attachments(ctx context.Context, postID string) ([]model.Attachment, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *postRepository) Find(ctx context.Context, id string) (*model.Post, error) {
	return firstOrNil[model.Post](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *postRepository) FindForUpdate(ctx context.Context, id string) (*model.Post, error) {
	return firstOrNil[model.Post](forUpdate(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *postRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", id).Updates(fields).Error
}

func (r *postRepository) Children(ctx context.Context, parentIDs []string) ([]model.Post, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var res []model.Post
	err := r.db.WithContext(ctx).Where("parent_id IN ?", parentIDs).Order("id").Find(&res).Error
	return res, err
}

func (r *postRepository) AddAttachments(ctx context.Context, atts []model.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&atts).Error
}

func (r *postRepository) Attachments(ctx context.Context, postID string) ([]model.Attachment, error) {
	var res []model.Attachment
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at, id").Find(&res).Error
	return res, err
}
