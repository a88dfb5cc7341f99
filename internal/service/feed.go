package service

import (
	"context"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// CreateFeed 创建自定义 feed（默认 push，由 AddFeedItem 手动维护）
func (g *Gateway) CreateFeed(ctx context.Context, cmd *CreateFeed) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		strategy := cmd.Strategy
		if strategy == "" {
			strategy = model.FeedStrategyPush
		}
		f := &model.Feed{OwnerID: cmd.ActorID, Name: cmd.Name, Strategy: strategy, CreatedAt: m.now}
		created, err := tx.Feeds.Ensure(ctx, f)
		if err != nil {
			return err
		}
		m.primary(model.KindFeed, f.ID)
		if !created {
			m.duplicate(f.ID)
			return nil
		}
		m.payload = model.RecordPayload{FeedID: f.ID, FeedName: f.Name, FeedStrategy: strategy}
		return nil
	})
}

func (g *Gateway) AddFeedItem(ctx context.Context, cmd *AddFeedItem) (*Result, error) {
	c := &cmd.FeedItem
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		f, err := ownFeed(ctx, tx, m, c)
		if err != nil {
			return err
		}
		post, err := livePost(ctx, tx, c.PostID)
		if err != nil {
			return err
		}
		m.touch(model.KindPost, post.ID, "item")
		changed, err := tx.Feeds.AddItem(ctx, f.ID, c.ActorID, post)
		if err != nil {
			return err
		}
		if !changed {
			m.duplicate(post.ID)
			return nil
		}
		m.entityID = post.ID
		m.payload = model.RecordPayload{FeedID: f.ID, FeedName: f.Name, PostID: post.ID, AuthorID: post.AuthorID}
		return nil
	})
}

func (g *Gateway) RemoveFeedItem(ctx context.Context, cmd *RemoveFeedItem) (*Result, error) {
	c := &cmd.FeedItem
	return g.execute(ctx, cmd.CommandType(), c, &c.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		f, err := ownFeed(ctx, tx, m, c)
		if err != nil {
			return err
		}
		removed, err := tx.Feeds.RemoveItem(ctx, f.ID, c.PostID)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.entityID = c.PostID
		m.touch(model.KindPost, c.PostID, "item")
		m.payload = model.RecordPayload{FeedID: f.ID, FeedName: f.Name, PostID: c.PostID}
		return nil
	})
}

// ownFeed loads one of the actor's curated feeds. The home feed is
// maintained by fan-out only.
func ownFeed(ctx context.Context, tx *repository.Store, m *mutation, c *FeedItem) (*model.Feed, error) {
	if _, err := actor(ctx, tx, c.ActorID); err != nil {
		return nil, err
	}
	if c.FeedName == model.HomeFeedName {
		return nil, apperror.Validation("the home feed cannot be edited directly")
	}
	f, err := tx.Feeds.Find(ctx, c.ActorID, c.FeedName)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperror.Validation("feed %q does not exist", c.FeedName)
	}
	m.primary(model.KindFeed, f.ID)
	return f, nil
}
