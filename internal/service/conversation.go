package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
)

// CreateConversation 两个方向都落到同一条会话
func (g *Gateway) CreateConversation(ctx context.Context, cmd *CreateConversation) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if err := g.checkPeer(ctx, tx, cmd.ActorID, cmd.ParticipantID); err != nil {
			return err
		}
		conv, created, err := tx.Conversations.GetOrCreate(ctx, cmd.ActorID, cmd.ParticipantID)
		if err != nil {
			return err
		}
		m.primary(model.KindConversation, conv.ID)
		if !created {
			m.duplicate(conv.ID)
			return nil
		}
		m.touch(model.KindAccount, cmd.ParticipantID, "participant")
		m.payload = model.RecordPayload{ConversationID: conv.ID, RecipientID: cmd.ParticipantID}
		return nil
	})
}

// SendMessage resolves or creates the conversation in the same transaction.
func (g *Gateway) SendMessage(ctx context.Context, cmd *SendMessage) (*Result, error) {
	return g.execute(ctx, cmd.CommandType(), cmd, &cmd.Meta, func(ctx context.Context, tx *repository.Store, m *mutation) error {
		if err := g.checkPeer(ctx, tx, cmd.ActorID, cmd.RecipientID); err != nil {
			return err
		}
		conv, _, err := tx.Conversations.GetOrCreate(ctx, cmd.ActorID, cmd.RecipientID)
		if err != nil {
			return err
		}
		msg := &model.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       cmd.ActorID,
			Content:        cmd.Content,
			CreatedAt:      m.now,
		}
		if err := tx.Conversations.AddMessage(ctx, msg); err != nil {
			return err
		}
		m.primary(model.KindMessage, msg.ID)
		m.touch(model.KindConversation, conv.ID, "conversation")
		m.touch(model.KindAccount, cmd.RecipientID, "recipient")
		m.payload = model.RecordPayload{
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			RecipientID:    cmd.RecipientID,
			Content:        cmd.Content,
		}
		return nil
	})
}

// checkPeer rejects messaging yourself, missing accounts and blocks in either
// direction.
func (g *Gateway) checkPeer(ctx context.Context, tx *repository.Store, actorID, peerID string) error {
	if _, err := actor(ctx, tx, actorID); err != nil {
		return err
	}
	if _, err := otherAccount(ctx, tx, actorID, peerID); err != nil {
		return err
	}
	return notBlocked(ctx, tx, actorID, peerID)
}
