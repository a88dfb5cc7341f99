package model

import (
	"time"
)

// Follow 关注关系（A 关注 B）
type Follow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_follow_pair,priority:1"`
	// followee 侧索引用于分页读取粉丝
	FolloweeID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_follow_pair,priority:2;index:idx_follow_followee"`
	CreatedAt  time.Time
}

func (Follow) TableName() string { return "follows" }

// Block 拉黑关系（A 拉黑 B）
type Block struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	BlockerID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_block_pair,priority:1"`
	BlockedID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_block_pair,priority:2;index:idx_block_blocked"`
	CreatedAt time.Time
}

func (Block) TableName() string { return "blocks" }

// Mute 静音关系（A 不想看到 B 的内容）
type Mute struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	MuterID   string `gorm:"type:varchar(40);not null;uniqueIndex:ux_mute_pair,priority:1"`
	MutedID   string `gorm:"type:varchar(40);not null;uniqueIndex:ux_mute_pair,priority:2"`
	CreatedAt time.Time
}

func (Mute) TableName() string { return "mutes" }

// EdgeKind 有向边类型
type EdgeKind string

const (
	EdgeFollow EdgeKind = "follow"
	EdgeBlock  EdgeKind = "block"
	EdgeMute   EdgeKind = "mute"
)

// EdgeTable describes where an edge kind is stored.
type EdgeTable struct {
	Table     string
	SourceCol string
	TargetCol string
}

var edgeTables = map[EdgeKind]EdgeTable{
	EdgeFollow: {Table: "follows", SourceCol: "follower_id", TargetCol: "followee_id"},
	EdgeBlock:  {Table: "blocks", SourceCol: "blocker_id", TargetCol: "blocked_id"},
	EdgeMute:   {Table: "mutes", SourceCol: "muter_id", TargetCol: "muted_id"},
}

// TableOf returns the storage layout of kind. Unknown kinds panic: the set
// is closed and callers only pass the constants above.
func TableOf(kind EdgeKind) EdgeTable {
	t, ok := edgeTables[kind]
	if !ok {
		panic("model: unknown edge kind " + string(kind))
	}
	return t
}

// NewEdge builds the row for kind.
func NewEdge(kind EdgeKind, id, source, target string) any {
	switch kind {
	case EdgeFollow:
		return &Follow{ID: id, FollowerID: source, FolloweeID: target}
	case EdgeBlock:
		return &Block{ID: id, BlockerID: source, BlockedID: target}
	case EdgeMute:
		return &Mute{ID: id, MuterID: source, MutedID: target}
	}
	panic("model: unknown edge kind " + string(kind))
}
