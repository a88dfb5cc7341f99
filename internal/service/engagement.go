package service

import (
	"context"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
)

// React 每种互动类型计一次；所有类型都计入 likes_count
func (g *Gateway) React(ctx context.Context, cmd *React) (*Result, error) {
	c := &cmd.Reaction
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		post, err := g.postTarget(ctx, tx, m, c.ActorID, c.PostID)
		if err != nil {
			return err
		}
		id, created, err := tx.Engagements.AddReaction(ctx, post.ID, c.ActorID, c.Type)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		m.entityID = id
		m.payload = model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID, ReactionType: c.Type}
		return nil
	})
}

func (g *Gateway) Unreact(ctx context.Context, cmd *Unreact) (*Result, error) {
	c := &cmd.Reaction
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		post, err := g.postTarget(ctx, tx, m, c.ActorID, c.PostID)
		if err != nil {
			return err
		}
		removed, err := tx.Engagements.RemoveReaction(ctx, post.ID, c.ActorID, c.Type)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.payload = model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID, ReactionType: c.Type}
		return nil
	})
}

// Repost snapshots the reposter's follower count; it decides whether the
// repost is pushed into followers' feeds.
func (g *Gateway) Repost(ctx context.Context, cmd *Repost) (*Result, error) {
	c := &cmd.PostRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		reposter, err := actor(ctx, tx, c.ActorID)
		if err != nil {
			return err
		}
		post, err := livePost(ctx, tx, c.PostID)
		if err != nil {
			return err
		}
		m.primary(model.KindPost, post.ID)
		id, created, err := tx.Engagements.AddRepost(ctx, post.ID, c.ActorID)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		m.entityID = id
		m.payload = model.RecordPayload{
			PostID:          post.ID,
			AuthorID:        post.AuthorID,
			PostCreatedAt:   &post.CreatedAt,
			AuthorFollowers: reposter.FollowerCount,
		}
		return nil
	})
}

func (g *Gateway) Unrepost(ctx context.Context, cmd *Unrepost) (*Result, error) {
	c := &cmd.PostRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		post, err := g.postTarget(ctx, tx, m, c.ActorID, c.PostID)
		if err != nil {
			return err
		}
		removed, err := tx.Engagements.RemoveRepost(ctx, post.ID, c.ActorID)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.payload = model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID}
		return nil
	})
}

func (g *Gateway) Bookmark(ctx context.Context, cmd *Bookmark) (*Result, error) {
	c := &cmd.PostRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		post, err := g.postTarget(ctx, tx, m, c.ActorID, c.PostID)
		if err != nil {
			return err
		}
		id, created, err := tx.Engagements.AddBookmark(ctx, c.ActorID, post.ID)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		m.entityID = id
		m.payload = model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID}
		return nil
	})
}

func (g *Gateway) Unbookmark(ctx context.Context, cmd *Unbookmark) (*Result, error) {
	c := &cmd.PostRef
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		post, err := g.postTarget(ctx, tx, m, c.ActorID, c.PostID)
		if err != nil {
			return err
		}
		removed, err := tx.Engagements.RemoveBookmark(ctx, c.ActorID, post.ID)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.payload = model.RecordPayload{PostID: post.ID, AuthorID: post.AuthorID}
		return nil
	})
}

// postTarget checks the actor and the live post an engagement points at.
func (g *Gateway) postTarget(ctx context.Context, tx *repository.Store, m *mutation, actorID, postID string) (*model.Post, error) {
	if _, err := actor(ctx, tx, actorID); err != nil {
		return nil, err
	}
	post, err := livePost(ctx, tx, postID)
	if err != nil {
		return nil, err
	}
	m.primary(model.KindPost, post.ID)
	m.touch(model.KindAccount, post.AuthorID, "author")
	return post, nil
}

// Subscribe 订阅 / 超级关注，与关注一样不能跨越拉黑
func (g *Gateway) Subscribe(ctx context.Context, cmd *Subscribe) (*Result, error) {
	c := &cmd.Subscription
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		kind, err := g.subscriptionTarget(ctx, tx, m, c)
		if err != nil {
			return err
		}
		if err := notBlocked(ctx, tx, c.ActorID, c.TargetID); err != nil {
			return err
		}
		id, created, err := tx.Engagements.AddSubscription(ctx, c.ActorID, c.TargetID, kind)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		m.entityID = id
		m.payload = model.RecordPayload{TargetID: c.TargetID, SubscriptionKind: kind}
		return nil
	})
}

func (g *Gateway) Unsubscribe(ctx context.Context, cmd *Unsubscribe) (*Result, error) {
	c := &cmd.Subscription
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		kind, err := g.subscriptionTarget(ctx, tx, m, c)
		if err != nil {
			return err
		}
		removed, err := tx.Engagements.RemoveSubscription(ctx, c.ActorID, c.TargetID, kind)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.payload = model.RecordPayload{TargetID: c.TargetID, SubscriptionKind: kind}
		return nil
	})
}

func (g *Gateway) subscriptionTarget(ctx context.Context, tx *repository.Store, m *mutation, c *Subscription) (string, error) {
	if _, err := actor(ctx, tx, c.ActorID); err != nil {
		return "", err
	}
	if _, err := otherAccount(ctx, tx, c.ActorID, c.TargetID); err != nil {
		return "", err
	}
	m.primary(model.KindAccount, c.TargetID)
	if c.Kind == "" {
		return model.SubscriptionKindSubscription, nil
	}
	return c.Kind, nil
}
