package service

import (
	"context"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// CreateAccount 创建账户，同时建好 home feed。账户 ID 即操作者地址
func (g *Gateway) CreateAccount(ctx context.Context, cmd *CreateAccount) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		m.primary(model.KindAccount, cmd.ActorID)
		existing, err := tx.Accounts.Find(ctx, cmd.ActorID)
		if err != nil {
			return err
		}
		if existing != nil {
			m.duplicate(existing.ID)
			return nil
		}
		if err := handleFree(ctx, tx, cmd.Handle, cmd.ActorID); err != nil {
			return err
		}

		acc := &model.Account{
			ID:          cmd.ActorID,
			Handle:      cmd.Handle,
			DisplayName: cmd.DisplayName,
			Bio:         cmd.Bio,
			AvatarURL:   cmd.AvatarURL,
			Metadata:    cmd.Profile,
			CreatedAt:   m.now,
			UpdatedAt:   m.now,
		}
		if err := tx.Accounts.Create(ctx, acc); err != nil {
			return err
		}
		home := &model.Feed{OwnerID: acc.ID, Name: model.HomeFeedName, Strategy: model.FeedStrategyHybrid, CreatedAt: m.now}
		if _, err := tx.Feeds.Ensure(ctx, home); err != nil {
			return err
		}
		m.touch(model.KindFeed, home.ID, "home")
		m.payload = model.RecordPayload{Handle: deref(cmd.Handle), DisplayName: cmd.DisplayName, Bio: cmd.Bio}
		return nil
	})
}

func handleFree(ctx context.Context, tx *repository.Store, handle *string, owner string) error {
	if handle == nil {
		return nil
	}
	holder, err := tx.Accounts.FindByHandle(ctx, *handle)
	if err != nil {
		return err
	}
	if holder != nil && holder.ID != owner {
		return apperror.Conflict("handle %q is taken", *handle)
	}
	return nil
}

func (g *Gateway) UpdateProfile(ctx context.Context, cmd *UpdateProfile) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		acc, err := lockedActor(ctx, tx, cmd.ActorID)
		if err != nil {
			return err
		}
		m.primary(model.KindAccount, acc.ID)

		fields := map[string]any{}
		if cmd.Handle != nil && *cmd.Handle != acc.HandleValue() {
			if err := handleFree(ctx, tx, cmd.Handle, acc.ID); err != nil {
				return err
			}
			fields["handle"] = *cmd.Handle
			acc.Handle = cmd.Handle
		}
		if cmd.DisplayName != nil && *cmd.DisplayName != acc.DisplayName {
			fields["display_name"] = *cmd.DisplayName
			acc.DisplayName = *cmd.DisplayName
		}
		if cmd.Bio != nil && *cmd.Bio != acc.Bio {
			fields["bio"] = *cmd.Bio
			acc.Bio = *cmd.Bio
		}
		if cmd.AvatarURL != nil && *cmd.AvatarURL != acc.AvatarURL {
			fields["avatar_url"] = *cmd.AvatarURL
		}
		if len(fields) == 0 {
			m.same(acc.ID)
			return nil
		}
		fields["updated_at"] = m.now
		if err := tx.Accounts.Update(ctx, acc.ID, fields); err != nil {
			return err
		}
		m.payload = model.RecordPayload{Handle: acc.HandleValue(), DisplayName: acc.DisplayName, Bio: acc.Bio}
		return nil
	})
}

// SetAccountFlags 审核标记，仅限配置中的审核账户，且不能作用于自己
func (g *Gateway) SetAccountFlags(ctx context.Context, cmd *SetAccountFlags) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, ok := g.moderators[cmd.ActorID]; !ok {
			return apperror.Validation("account %s is not a moderator", cmd.ActorID)
		}
		if cmd.TargetID == cmd.ActorID {
			return apperror.Validation("moderators cannot flag their own account")
		}
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		target, err := tx.Accounts.FindForUpdate(ctx, cmd.TargetID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperror.Validation("account %s does not exist", cmd.TargetID)
		}
		m.primary(model.KindAccount, target.ID)

		prev := model.AccountFlags{Verified: target.Verified, Blocked: target.Blocked, Pro: target.Pro}
		next := prev
		fields := map[string]any{}
		if cmd.Verified != nil && *cmd.Verified != prev.Verified {
			next.Verified = *cmd.Verified
			fields["verified"] = next.Verified
		}
		if cmd.Blocked != nil && *cmd.Blocked != prev.Blocked {
			next.Blocked = *cmd.Blocked
			fields["blocked"] = next.Blocked
		}
		if cmd.Pro != nil && *cmd.Pro != prev.Pro {
			next.Pro = *cmd.Pro
			fields["pro"] = next.Pro
		}
		if len(fields) == 0 {
			m.same(target.ID)
			return nil
		}
		fields["updated_at"] = m.now
		if err := tx.Accounts.Update(ctx, target.ID, fields); err != nil {
			return err
		}
		m.payload = model.RecordPayload{
			TargetID:    target.ID,
			Flags:       &next,
			PrevFlags:   &prev,
			Handle:      target.HandleValue(),
			DisplayName: target.DisplayName,
			Bio:         target.Bio,
		}
		return nil
	})
}
