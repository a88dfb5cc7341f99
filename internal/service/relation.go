package service

import (
	"context"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
)

// Follow 关注。拉黑关系存在时拒绝；重复关注是幂等空操作
func (g *Gateway) Follow(ctx context.Context, cmd *Follow) (*Result, error) {
	return g.addRelation(ctx, cmd.CommandType(), model.EdgeFollow, &cmd.Relation)
}

func (g *Gateway) Unfollow(ctx context.Context, cmd *Unfollow) (*Result, error) {
	return g.removeRelation(ctx, cmd.CommandType(), model.EdgeFollow, &cmd.Relation)
}

// Block does not touch existing follows in either direction; reads hide
// them instead, so unblocking restores the previous state.
func (g *Gateway) Block(ctx context.Context, cmd *Block) (*Result, error) {
	return g.addRelation(ctx, cmd.CommandType(), model.EdgeBlock, &cmd.Relation)
}

func (g *Gateway) Unblock(ctx context.Context, cmd *Unblock) (*Result, error) {
	return g.removeRelation(ctx, cmd.CommandType(), model.EdgeBlock, &cmd.Relation)
}

func (g *Gateway) Mute(ctx context.Context, cmd *Mute) (*Result, error) {
	return g.addRelation(ctx, cmd.CommandType(), model.EdgeMute, &cmd.Relation)
}

func (g *Gateway) Unmute(ctx context.Context, cmd *Unmute) (*Result, error) {
	return g.removeRelation(ctx, cmd.CommandType(), model.EdgeMute, &cmd.Relation)
}

func (g *Gateway) addRelation(ctx context.Context, typ string, kind model.EdgeKind, cmd *Relation) (*Result, error) {
	return g.execute(ctx, typ, cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		target, err := otherAccount(ctx, tx, cmd.ActorID, cmd.TargetID)
		if err != nil {
			return err
		}
		if kind == model.EdgeFollow {
			if err := notBlocked(ctx, tx, cmd.ActorID, target.ID); err != nil {
				return err
			}
		}
		m.primary(model.KindAccount, target.ID)
		m.touch(model.KindAccount, cmd.ActorID, "actor")

		id, created, err := tx.Relations.Create(ctx, kind, cmd.ActorID, target.ID)
		if err != nil {
			return err
		}
		if !created {
			m.duplicate(id)
			return nil
		}
		m.entityID = id
		m.payload = model.RecordPayload{TargetID: target.ID, AuthorFollowers: target.FollowerCount}
		return nil
	})
}

func (g *Gateway) removeRelation(ctx context.Context, typ string, kind model.EdgeKind, cmd *Relation) (*Result, error) {
	return g.execute(ctx, typ, cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if _, err := actor(ctx, tx, cmd.ActorID); err != nil {
			return err
		}
		target, err := otherAccount(ctx, tx, cmd.ActorID, cmd.TargetID)
		if err != nil {
			return err
		}
		m.primary(model.KindAccount, target.ID)
		m.touch(model.KindAccount, cmd.ActorID, "actor")

		removed, err := tx.Relations.Delete(ctx, kind, cmd.ActorID, target.ID)
		if err != nil {
			return err
		}
		if !removed {
			m.absentEdge()
			return nil
		}
		m.payload = model.RecordPayload{TargetID: target.ID}
		return nil
	})
}
