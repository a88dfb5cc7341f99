package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

type AccountRepository interface {
	Create(ctx context.Context, a *model.Account) error
	// Find returns nil when the account does not exist.
	Find(ctx context.Context, id string) (*model.Account, error)
	// FindForUpdate is Find with a row lock held until the transaction ends.
	FindForUpdate(ctx context.Context, id string) (*model.Account, error)
	FindByHandle(ctx context.Context, handle string) (*model.Account, error)
	FindMany(ctx context.Context, ids []string) (map[string]*model.Account, error)
	Update(ctx context.Context, id string, fields map[string]any) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository { return &accountRepository{db: db} }

func (r *accountRepository) Create(ctx context.Context, a *model.Account) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *accountRepository) Find(ctx context.Context, id string) (*model.Account, error) {
	return firstOrNil[model.Account](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *accountRepository) FindForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return firstOrNil[model.Account](forUpdate(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *accountRepository) FindByHandle(ctx context.Context, handle string) (*model.Account, error) {
	return firstOrNil[model.Account](r.db.WithContext(ctx).Where("handle = ?", handle))
}

func (r *accountRepository) FindMany(ctx context.Context, ids []string) (map[string]*model.Account, error) {
	out := make(map[string]*model.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*model.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, a := range rows {
		out[a.ID] = a
	}
	return out, nil
}

func (r *accountRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(fields).Error
}
