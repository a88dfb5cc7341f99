package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

type GroupRepository interface {
	Create(ctx context.Context, g *model.Group) error
	Find(ctx context.Context, id string) (*model.Group, error)
	FindForUpdate(ctx context.Context, id string) (*model.Group, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	AddMember(ctx context.Context, groupID, accountID, role string) (string, bool, error)
	RemoveMember(ctx context.Context, groupID, accountID string) (bool, error)
	Member(ctx context.Context, groupID, accountID string) (*model.GroupMember, error)
	// Admins 返回 owner 与 admin，按账户排序
	Admins(ctx context.Context, groupID string) ([]string, error)
}

type groupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository { return &groupRepository{db: db} }

func (r *groupRepository) Create(ctx context.Context, g *model.Group) error {
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *groupRepository) Find(ctx context.Context, id string) (*model.Group, error) {
	return firstOrNil[model.Group](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *groupRepository) FindForUpdate(ctx context.Context, id string) (*model.Group, error) {
	return firstOrNil[model.Group](forUpdate(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *groupRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.Group{}).Where("id = ?", id).Updates(fields).Error
}

func (r *groupRepository) AddMember(ctx context.Context, groupID, accountID, role string) (string, bool, error) {
	id := uuid.New().String()
	row := &model.GroupMember{ID: id, GroupID: groupID, AccountID: accountID, Role: role}
	return addEdge(r.db.WithContext(ctx), row, id, "group_id = ? AND account_id = ?", groupID, accountID)
}

func (r *groupRepository) RemoveMember(ctx context.Context, groupID, accountID string) (bool, error) {
	return removeEdge[model.GroupMember](r.db.WithContext(ctx), "group_id = ? AND account_id = ?", groupID, accountID)
}

func (r *groupRepository) Member(ctx context.Context, groupID, accountID string) (*model.GroupMember, error) {
	return firstOrNil[model.GroupMember](r.db.WithContext(ctx).Where("group_id = ? AND account_id = ?", groupID, accountID))
}

func (r *groupRepository) Admins(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("group_id = ? AND role IN ?", groupID, []string{model.RoleOwner, model.RoleAdmin}).
		Order("account_id").
		Pluck("account_id", &ids).Error
	return ids, err
}
