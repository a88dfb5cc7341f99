package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	FeedStrategyPush   = "push"
	FeedStrategyPull   = "pull"
	FeedStrategyHybrid = "hybrid"

	HomeFeedName = "home"
)

var feedNamespace = uuid.MustParse("6f1c7c1e-3a55-4c36-9a8f-2a8f5d0b7e41")

// FeedID derives a stable feed id from owner and name, so every component
// can address a feed without reading it first.
func FeedID(ownerID, name string) string {
	return uuid.NewSHA1(feedNamespace, []byte(ownerID+"/"+name)).String()
}

// Feed 命名的帖子序列
type Feed struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID   string    `json:"owner_id" gorm:"type:varchar(40);not null;uniqueIndex:ux_feed_owner_name,priority:1"`
	Name      string    `json:"name" gorm:"type:varchar(64);not null;uniqueIndex:ux_feed_owner_name,priority:2"`
	Strategy  string    `json:"strategy" gorm:"type:varchar(8);not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Feed) TableName() string { return "feeds" }

// FeedItem 物化的时间线项（按 feed 切分）
type FeedItem struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	FeedID   string `gorm:"type:varchar(36);not null;uniqueIndex:ux_feed_item,priority:1;index:idx_feed_item_order,priority:1;index:idx_feed_item_source,priority:1"`
	PostID   string `gorm:"type:varchar(36);not null;uniqueIndex:ux_feed_item,priority:2;index:idx_feed_item_post;index:idx_feed_item_order,priority:3"`
	AuthorID string `gorm:"type:varchar(40);not null;index"`
	// 谁的动作把帖子放进来（作者本人或转发者）
	SourceID string `gorm:"type:varchar(40);not null;index:idx_feed_item_source,priority:2"`
	// 按帖子创建时间排序，而非入队时间
	PostCreatedAt time.Time `gorm:"index:idx_feed_item_order,priority:2"`
	Removed       bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time
}

func (FeedItem) TableName() string { return "feed_items" }
