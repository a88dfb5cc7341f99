package model

import "time"

const (
	KindAccount      = "account"
	KindPost         = "post"
	KindGroup        = "group"
	KindConversation = "conversation"
	KindMessage      = "message"
	KindFeed         = "feed"
)

// SearchIndexEntry 搜索投影；SourceSeq 防止旧记录覆盖新记录
type SearchIndexEntry struct {
	EntityKind   string     `json:"entity_kind" gorm:"primaryKey;type:varchar(16)"`
	EntityID     string     `json:"entity_id" gorm:"primaryKey;type:varchar(40)"`
	Title        string     `json:"title" gorm:"type:varchar(256)"`
	Body         string     `json:"body" gorm:"type:text"`
	Tombstoned   bool       `json:"tombstoned" gorm:"not null;default:false;index"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
	SourceSeq    int64      `json:"source_seq" gorm:"not null"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (SearchIndexEntry) TableName() string { return "search_index_entries" }
