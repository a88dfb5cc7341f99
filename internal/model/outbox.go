package model

import (
	"time"

	"gorm.io/datatypes"
)

// 记录类型，与命令一一对应
const (
	RecordCreateAccount      = "create_account"
	RecordUpdateProfile      = "update_profile"
	RecordSetAccountFlags    = "set_account_flags"
	RecordFollow             = "follow"
	RecordUnfollow           = "unfollow"
	RecordBlock              = "block"
	RecordUnblock            = "unblock"
	RecordMute               = "mute"
	RecordUnmute             = "unmute"
	RecordCreatePost         = "create_post"
	RecordEditPost           = "edit_post"
	RecordDeletePost         = "delete_post"
	RecordReact              = "react"
	RecordUnreact            = "unreact"
	RecordRepost             = "repost"
	RecordUnrepost           = "unrepost"
	RecordBookmark           = "bookmark"
	RecordUnbookmark         = "unbookmark"
	RecordSubscribe          = "subscribe"
	RecordUnsubscribe        = "unsubscribe"
	RecordCreateGroup        = "create_group"
	RecordUpdateGroup        = "update_group"
	RecordDeleteGroup        = "delete_group"
	RecordJoinGroup          = "join_group"
	RecordLeaveGroup         = "leave_group"
	RecordCreateConversation = "create_conversation"
	RecordSendMessage        = "send_message"
	RecordCreateFeed         = "create_feed"
	RecordAddFeedItem        = "add_feed_item"
	RecordRemoveFeedItem     = "remove_feed_item"
)

// 派发状态
const (
	RecordPending = "pending"
	RecordDone    = "done"
	RecordDead    = "dead"
)

// EntityRef 受影响实体
type EntityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// AccountFlags 审核标记
type AccountFlags struct {
	Verified bool `json:"verified"`
	Blocked  bool `json:"blocked"`
	Pro      bool `json:"pro"`
}

// RecordPayload is the snapshot taken inside the command transaction.
// Consumers replay it instead of reading current rows.
type RecordPayload struct {
	TargetID string `json:"target_id,omitempty"`

	Handle      string        `json:"handle,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Bio         string        `json:"bio,omitempty"`
	Flags       *AccountFlags `json:"flags,omitempty"`
	PrevFlags   *AccountFlags `json:"prev_flags,omitempty"`

	PostID          string     `json:"post_id,omitempty"`
	AuthorID        string     `json:"author_id,omitempty"`
	Content         string     `json:"content,omitempty"`
	ContentChanged  bool       `json:"content_changed,omitempty"`
	ParentID        string     `json:"parent_id,omitempty"`
	ParentAuthorID  string     `json:"parent_author_id,omitempty"`
	RootID          string     `json:"root_id,omitempty"`
	RootAuthorID    string     `json:"root_author_id,omitempty"`
	QuotedID        string     `json:"quoted_id,omitempty"`
	QuotedAuthorID  string     `json:"quoted_author_id,omitempty"`
	Reparented      bool       `json:"reparented,omitempty"`
	OldParentID     string     `json:"old_parent_id,omitempty"`
	PostCreatedAt   *time.Time `json:"post_created_at,omitempty"`
	AuthorFollowers int64      `json:"author_followers,omitempty"`
	Pushed          bool       `json:"pushed,omitempty"`
	ReactionType    string     `json:"reaction_type,omitempty"`

	GroupID          string   `json:"group_id,omitempty"`
	GroupName        string   `json:"group_name,omitempty"`
	GroupDescription string   `json:"group_description,omitempty"`
	GroupAdmins      []string `json:"group_admins,omitempty"`
	MemberRole       string   `json:"member_role,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`

	SubscriptionKind string `json:"subscription_kind,omitempty"`

	FeedID       string `json:"feed_id,omitempty"`
	FeedName     string `json:"feed_name,omitempty"`
	FeedStrategy string `json:"feed_strategy,omitempty"`
}

// MutationRecord 有序变更记录（事务内落地的 outbox）
type MutationRecord struct {
	Seq            int64                             `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID             string                            `json:"id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Type           string                            `json:"type" gorm:"type:varchar(32);not null;index:idx_record_lookup,priority:1"`
	ActorID        string                            `json:"actor_id" gorm:"type:varchar(40);not null;index:idx_record_lookup,priority:2"`
	PrimaryKind    string                            `json:"primary_kind" gorm:"type:varchar(16);not null"`
	PrimaryID      string                            `json:"primary_id" gorm:"type:varchar(40);not null;index:idx_record_lookup,priority:3"`
	Affected       datatypes.JSONType[[]EntityRef]   `json:"affected"`
	Payload        datatypes.JSONType[RecordPayload] `json:"payload"`
	IdempotencyKey string                            `json:"idempotency_key" gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt      time.Time                         `json:"created_at"`
	Status         string                            `json:"status" gorm:"type:varchar(16);not null;index:idx_record_pending,priority:1"`
	Attempts       int                               `json:"attempts" gorm:"not null;default:0"`
	NextAttemptAt  time.Time                         `json:"next_attempt_at" gorm:"index:idx_record_pending,priority:2"`
	LastError      string                            `json:"last_error,omitempty" gorm:"type:text"`
	ProcessedAt    *time.Time                        `json:"processed_at,omitempty"`
}

func (MutationRecord) TableName() string { return "mutation_records" }

// Data returns the decoded payload.
func (r *MutationRecord) Data() RecordPayload { return r.Payload.Data() }

// Refs returns the affected entities.
func (r *MutationRecord) Refs() []EntityRef { return r.Affected.Data() }

// DeliveryReceipt 消费回执，(idempotency_key, consumer) 唯一
type DeliveryReceipt struct {
	IdempotencyKey string `gorm:"primaryKey;type:varchar(64)"`
	Consumer       string `gorm:"primaryKey;type:varchar(32)"`
	RecordSeq      int64  `gorm:"not null"`
	CreatedAt      time.Time
}

func (DeliveryReceipt) TableName() string { return "delivery_receipts" }

// CounterShard 热点计数分片
type CounterShard struct {
	PostID string `gorm:"primaryKey;type:varchar(36)"`
	Field  string `gorm:"primaryKey;type:varchar(32)"`
	Shard  int    `gorm:"primaryKey;autoIncrement:false"`
	Value  int64  `gorm:"not null;default:0"`
}

func (CounterShard) TableName() string { return "counter_shards" }

// All 返回需要迁移的全部模型
func All() []any {
	return []any{
		&Account{}, &Follow{}, &Block{}, &Mute{},
		&Post{}, &Attachment{}, &Reaction{}, &Repost{}, &Bookmark{}, &Subscription{},
		&Group{}, &GroupMember{},
		&Conversation{}, &Message{},
		&Notification{},
		&Feed{}, &FeedItem{},
		&SearchIndexEntry{},
		&MutationRecord{}, &DeliveryReceipt{}, &CounterShard{},
	}
}
