package service

import (
	"context"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// actor loads the acting account. Moderation-blocked accounts cannot act.
func actor(ctx context.Context, tx *repository.Store, id string) (*model.Account, error) {
	return loadActor(ctx, id, tx.Accounts.Find)
}

// lockedActor is actor with the account row locked; commands that snapshot
// the account into their record use it.
func lockedActor(ctx context.Context, tx *repository.Store, id string) (*model.Account, error) {
	return loadActor(ctx, id, tx.Accounts.FindForUpdate)
}

func loadActor(ctx context.Context, id string, load func(context.Context, string) (*model.Account, error)) (*model.Account, error) {
	a, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperror.Validation("account %s does not exist", id)
	}
	if a.Blocked {
		return nil, apperror.Validation("account %s is blocked", id)
	}
	return a, nil
}

func existingAccount(ctx context.Context, tx *repository.Store, id string) (*model.Account, error) {
	a, err := tx.Accounts.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperror.Validation("account %s does not exist", id)
	}
	return a, nil
}

// otherAccount loads a second account an edge points at, rejecting self edges.
func otherAccount(ctx context.Context, tx *repository.Store, actorID, targetID string) (*model.Account, error) {
	if actorID == targetID {
		return nil, apperror.Validation("cannot target yourself")
	}
	return existingAccount(ctx, tx, targetID)
}

// notBlocked rejects interactions across a block in either direction.
func notBlocked(ctx context.Context, tx *repository.Store, a, b string) error {
	blocked, err := tx.Relations.Blocked(ctx, a, b)
	if err != nil {
		return err
	}
	if blocked {
		return apperror.Validation("a block exists between %s and %s", a, b)
	}
	return nil
}

func livePost(ctx context.Context, tx *repository.Store, id string) (*model.Post, error) {
	p, err := tx.Posts.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Deleted() {
		return nil, apperror.Validation("post %s does not exist", id)
	}
	return p, nil
}

func liveGroup(ctx context.Context, tx *repository.Store, id string) (*model.Group, error) {
	g, err := tx.Groups.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil || g.DeletedAt != nil {
		return nil, apperror.Validation("group %s does not exist", id)
	}
	return g, nil
}

// groupAdmin loads and locks a live group the actor may manage.
func groupAdmin(ctx context.Context, tx *repository.Store, groupID, actorID string) (*model.Group, error) {
	g, err := tx.Groups.FindForUpdate(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.DeletedAt != nil {
		return nil, apperror.Validation("group %s does not exist", groupID)
	}
	m, err := tx.Groups.Member(ctx, groupID, actorID)
	if err != nil {
		return nil, err
	}
	if m == nil || (m.Role != model.RoleOwner && m.Role != model.RoleAdmin) {
		return nil, apperror.Validation("account %s cannot manage group %s", actorID, groupID)
	}
	return g, nil
}

func ptr[T any](v T) *T { return &v }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
