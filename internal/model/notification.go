package model

import "time"

// Notification 通知；(recipient, action_type, actor, entity) 唯一
type Notification struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RecipientID string    `json:"recipient_id" gorm:"type:varchar(40);not null;uniqueIndex:ux_notification_key,priority:1;index:idx_notification_inbox,priority:1"`
	ActionType  string    `json:"action_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_notification_key,priority:2"`
	ActorID     string    `json:"actor_id" gorm:"type:varchar(40);not null;default:'';uniqueIndex:ux_notification_key,priority:3"`
	EntityKind  string    `json:"entity_kind" gorm:"type:varchar(16);not null"`
	EntityID    string    `json:"entity_id" gorm:"type:varchar(40);not null;uniqueIndex:ux_notification_key,priority:4"`
	PostID      *string   `json:"post_id,omitempty" gorm:"type:varchar(36)"`
	GroupID     *string   `json:"group_id,omitempty" gorm:"type:varchar(36)"`
	IsRead      bool      `json:"is_read" gorm:"not null;default:false"`
	Occurrences int64     `json:"occurrences" gorm:"not null;default:1"`
	RecordSeq   int64     `json:"record_seq"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index:idx_notification_inbox,priority:2"`
}

func (Notification) TableName() string { return "notifications" }
