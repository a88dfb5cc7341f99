package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
)

// Action types written to notifications.action_type. Reactions use the
// reaction type itself ("like", "love", ...).
const (
	ActionFollow    = "follow"
	ActionSubscribe = "subscribe"
	ActionRepost    = "repost"
	ActionQuote     = "quote"
	ActionComment   = "comment"
	ActionGroupJoin = "group_join"
	ActionMessage   = "message"
)

// Recipients maps a record to the notifications it implies. It is pure: the
// record snapshot carries every id it needs. The actor is never notified.
func Recipients(rec *model.MutationRecord) []model.Notification {
	p := rec.Data()
	var out []model.Notification
	add := func(recipient, action, kind, entity string, post, group *string) {
		if recipient == "" || recipient == rec.ActorID {
			return
		}
		for _, n := range out {
			if n.RecipientID == recipient && n.ActionType == action {
				return
			}
		}
		out = append(out, model.Notification{
			RecipientID: recipient,
			ActionType:  action,
			ActorID:     rec.ActorID,
			EntityKind:  kind,
			EntityID:    entity,
			PostID:      post,
			GroupID:     group,
			RecordSeq:   rec.Seq,
		})
	}
	ptr := func(s string) *string { return &s }

	switch rec.Type {
	case model.RecordReact:
		add(p.AuthorID, p.ReactionType, model.KindPost, p.PostID, ptr(p.PostID), nil)
	case model.RecordRepost:
		add(p.AuthorID, ActionRepost, model.KindPost, p.PostID, ptr(p.PostID), nil)
	case model.RecordFollow:
		add(p.TargetID, ActionFollow, model.KindAccount, p.TargetID, nil, nil)
	case model.RecordSubscribe:
		add(p.TargetID, ActionSubscribe, model.KindAccount, p.TargetID, nil, nil)
	case model.RecordJoinGroup:
		for _, admin := range p.GroupAdmins {
			add(admin, ActionGroupJoin, model.KindGroup, p.GroupID, nil, ptr(p.GroupID))
		}
	case model.RecordCreatePost:
		if p.ParentID != "" {
			add(p.ParentAuthorID, ActionComment, model.KindPost, p.PostID, ptr(p.PostID), nil)
			add(p.RootAuthorID, ActionComment, model.KindPost, p.PostID, ptr(p.PostID), nil)
		}
		if p.QuotedID != "" {
			add(p.QuotedAuthorID, ActionQuote, model.KindPost, p.PostID, ptr(p.PostID), nil)
		}
	case model.RecordSendMessage:
		add(p.RecipientID, ActionMessage, model.KindConversation, p.ConversationID, nil, nil)
	}
	return out
}

// Builder 通知收件箱消费者
type Builder struct {
	bump bool
	pub  *Publisher
}

func NewBuilder(cfg config.NotificationConfig, pub *Publisher) *Builder {
	return &Builder{bump: cfg.BumpOnRepeat, pub: pub}
}

func (b *Builder) Name() string { return "notification" }

// Handle upserts one row per recipient. A repeat of the same action bumps the
// existing row (unread again, newer updated_at, occurrences+1) when bumping is
// enabled and is otherwise ignored.
func (b *Builder) Handle(ctx context.Context, tx *gorm.DB, rec *model.MutationRecord) error {
	now := time.Now().UTC()
	for _, n := range Recipients(rec) {
		n.ID = uuid.New().String()
		n.Occurrences = 1
		n.CreatedAt = now
		n.UpdatedAt = now

		onConflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "recipient_id"}, {Name: "action_type"}, {Name: "actor_id"}, {Name: "entity_id"}},
		}
		if b.bump {
			onConflict.DoUpdates = clause.Assignments(map[string]any{
				"occurrences": gorm.Expr("notifications.occurrences + 1"),
				"is_read":     false,
				"updated_at":  now,
				"record_seq":  rec.Seq,
			})
		} else {
			onConflict.DoNothing = true
		}
		if err := tx.WithContext(ctx).Clauses(onConflict).Create(&n).Error; err != nil {
			return err
		}
	}
	return nil
}

// AfterCommit pushes the committed notifications to live subscribers.
func (b *Builder) AfterCommit(_ context.Context, rec *model.MutationRecord) {
	if b.pub == nil {
		return
	}
	for _, n := range Recipients(rec) {
		payload, err := json.Marshal(Event{
			RecipientID: n.RecipientID,
			ActionType:  n.ActionType,
			ActorID:     n.ActorID,
			EntityKind:  n.EntityKind,
			EntityID:    n.EntityID,
			RecordSeq:   rec.Seq,
		})
		if err != nil {
			continue
		}
		b.pub.Enqueue(n.RecipientID, payload)
	}
}

// Event 实时推送的消息体
type Event struct {
	RecipientID string `json:"recipient_id"`
	ActionType  string `json:"action_type"`
	ActorID     string `json:"actor_id"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	RecordSeq   int64  `json:"record_seq"`
}
