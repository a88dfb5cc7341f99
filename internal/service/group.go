package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// CreateGroup 创建者成为 owner 并计入成员数
func (g *Gateway) CreateGroup(ctx context.Context, cmd *CreateGroup) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		grp := &model.Group{
			ID:          uuid.New().String(),
			OwnerID:     cmd.ActorID,
			Name:        cmd.Name,
			Description: cmd.Description,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if err := tx.Groups.Create(ctx, grp); err != nil {
			return err
		}
		if _, _, err := tx.Groups.AddMember(ctx, grp.ID, cmd.ActorID, model.RoleOwner); err != nil {
			return err
		}
		m.primary(model.KindGroup, grp.ID)
		m.payload = model.RecordPayload{GroupID: grp.ID, GroupName: grp.Name, GroupDescription: grp.Description, MemberRole: model.RoleOwner}
		return nil
	})
}

func (g *Gateway) UpdateGroup(ctx context.Context, cmd *UpdateGroup) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		grp, err := groupAdmin(ctx, tx, cmd.GroupID, cmd.ActorID)
		if err != nil {
			return err
		}
		m.primary(model.KindGroup, grp.ID)

		fields := map[string]any{}
		if cmd.Name != nil && *cmd.Name != grp.Name {
			fields["name"] = *cmd.Name
			grp.Name = *cmd.Name
		}
		if cmd.Description != nil && *cmd.Description != grp.Description {
			fields["description"] = *cmd.Description
			grp.Description = *cmd.Description
		}
		if len(fields) == 0 {
			m.same(grp.ID)
			return nil
		}
		fields["updated_at"] = m.now
		if err := tx.Groups.Update(ctx, grp.ID, fields); err != nil {
			return err
		}
		m.payload = model.RecordPayload{GroupID: grp.ID, GroupName: grp.Name, GroupDescription: grp.Description}
		return nil
	})
}

// DeleteGroup 软删除，仅 owner
func (g *Gateway) DeleteGroup(ctx context.Context, cmd *DeleteGroup) (*Result, error) {
	c := &cmd.GroupRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, c.ActorID); err != nil {
			return err
		}
		grp, err := tx.Groups.Find(ctx, c.GroupID)
		if err != nil {
			return err
		}
		if grp == nil {
			return apperror.Validation("group %s does not exist", c.GroupID)
		}
		if grp.OwnerID != c.ActorID {
			return apperror.Validation("only the owner can delete group %s", grp.ID)
		}
		m.primary(model.KindGroup, grp.ID)
		if grp.DeletedAt != nil {
			m.same(grp.ID)
			return nil
		}
		if err := tx.Groups.Update(ctx, grp.ID, map[string]any{"deleted_at": m.now, "updated_at": m.now}); err != nil {
			return err
		}
		m.payload = model.RecordPayload{GroupID: grp.ID, GroupName: grp.Name}
		return nil
	})
}

// JoinGroup snapshots the group's owners and admins for the notification.
func (g *Gateway) JoinGroup(ctx context.Context, cmd *JoinGroup) (*Result, error) {
	c := &cmd.GroupRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, c.ActorID); err != nil {
			return err
		}
		grp, err := liveGroup(ctx, tx, c.GroupID)
		if err != nil {
			return err
		}
		m.primary(model.KindGroup, grp.ID)
		id, created, err := tx.Groups.AddMember(ctx, grp.ID, c.ActorID, model.RoleMember)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		admins, err := tx.Groups.Admins(ctx, grp.ID)
		if err != nil {
			return err
		}
		m.entityID = id
		m.payload = model.RecordPayload{GroupID: grp.ID, GroupName: grp.Name, GroupAdmins: admins, MemberRole: model.RoleMember}
		return nil
	})
}

// LeaveGroup 成员退出；owner 不能退出自己的群
func (g *Gateway) LeaveGroup(ctx context.Context, cmd *LeaveGroup) (*Result, error) {
	c := &cmd.GroupRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, c.ActorID); err != nil {
			return err
		}
		grp, err := liveGroup(ctx, tx, c.GroupID)
		if err != nil {
			return err
		}
		if grp.OwnerID == c.ActorID {
			return apperror.Validation("the owner cannot leave group %s", grp.ID)
		}
		m.primary(model.KindGroup, grp.ID)
		member, err := tx.Groups.Member(ctx, grp.ID, c.ActorID)
		if err != nil {
			return err
		}
		if member == nil {
			m.absentEdge()
			return nil
		}
		if _, err := tx.Groups.RemoveMember(ctx, grp.ID, c.ActorID); err != nil {
			return err
		}
		m.entityID = member.ID
		m.payload = model.RecordPayload{GroupID: grp.ID, MemberRole: member.Role}
		return nil
	})
}
