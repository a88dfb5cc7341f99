package model

import "time"

// Conversation 私信会话；Participant1 恒为较小的地址
type Conversation struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Participant1  string     `json:"participant_1" gorm:"column:participant_1;type:varchar(40);not null;uniqueIndex:ux_conversation_pair,priority:1"`
	Participant2  string     `json:"participant_2" gorm:"column:participant_2;type:varchar(40);not null;uniqueIndex:ux_conversation_pair,priority:2;index"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

// CanonicalPair orders two addresses so the smaller one comes first.
// Addresses are fixed-length lowercase hex, so string order equals numeric order.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Other returns the participant that is not id.
func (c *Conversation) Other(id string) string {
	if c.Participant1 == id {
		return c.Participant2
	}
	return c.Participant1
}

// Message 私信
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);not null;index:idx_message_conv_created,priority:1"`
	SenderID       string    `json:"sender_id" gorm:"type:varchar(40);not null"`
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_message_conv_created,priority:2"`
}

func (Message) TableName() string { return "messages" }
