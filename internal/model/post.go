package model

import "time"

// Post 内容主体；ParentID 表示评论，QuotedID 表示引用
type Post struct {
	ID            string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID      string  `json:"author_id" gorm:"type:varchar(40);not null;index:idx_post_author_created,priority:1"`
	ParentID      *string `json:"parent_id,omitempty" gorm:"type:varchar(36);index"`
	RootID        *string `json:"root_id,omitempty" gorm:"type:varchar(36);index"`
	QuotedID      *string `json:"quoted_id,omitempty" gorm:"type:varchar(36);index"`
	Content       string  `json:"content" gorm:"type:text"`
	Depth         int     `json:"depth" gorm:"not null;default:0"`
	LikesCount    int64   `json:"likes_count" gorm:"not null;default:0"`
	CommentsCount int64   `json:"comments_count" gorm:"not null;default:0"`
	RepostsCount  int64   `json:"reposts_count" gorm:"not null;default:0"`
	QuotesCount   int64   `json:"quotes_count" gorm:"not null;default:0"`
	// Pushed 发帖时是否推送到粉丝 home feed；否则读时拉取
	Pushed    bool       `json:"-" gorm:"not null;default:false;index"`
	CreatedAt time.Time  `json:"created_at" gorm:"index:idx_post_author_created,priority:2"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Post) TableName() string { return "posts" }

// Deleted 是否已软删除
func (p *Post) Deleted() bool { return p.DeletedAt != nil }

// Attachment 附件，只存外部引用
type Attachment struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string `json:"post_id" gorm:"type:varchar(36);not null;index"`
	URL       string `json:"url" gorm:"type:varchar(1024);not null"`
	MediaType string `json:"media_type" gorm:"type:varchar(64)"`
	CreatedAt time.Time
}

func (Attachment) TableName() string { return "attachments" }

// Reaction 互动（点赞等），每种类型每人每帖一条
type Reaction struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	PostID    string `gorm:"type:varchar(36);not null;uniqueIndex:ux_reaction,priority:1"`
	AccountID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_reaction,priority:2"`
	Type      string `gorm:"type:varchar(16);not null;uniqueIndex:ux_reaction,priority:3"`
	CreatedAt time.Time
}

func (Reaction) TableName() string { return "reactions" }

// Repost 转发
type Repost struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	PostID    string `gorm:"type:varchar(36);not null;uniqueIndex:ux_repost,priority:1"`
	AccountID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_repost,priority:2"`
	CreatedAt time.Time
}

func (Repost) TableName() string { return "reposts" }

// Bookmark 收藏
type Bookmark struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	AccountID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_bookmark,priority:1"`
	PostID    string `gorm:"type:varchar(36);not null;uniqueIndex:ux_bookmark,priority:2"`
	CreatedAt time.Time
}

func (Bookmark) TableName() string { return "bookmarks" }

const (
	SubscriptionKindSubscription = "subscription"
	SubscriptionKindSuperFollow  = "super_follow"
)

// Subscription 订阅 / 超级关注
type Subscription struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	SubscriberID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_subscription,priority:1"`
	TargetID     string `gorm:"type:varchar(40);not null;uniqueIndex:ux_subscription,priority:2"`
	Kind         string `gorm:"type:varchar(16);not null;uniqueIndex:ux_subscription,priority:3"`
	CreatedAt    time.Time
}

func (Subscription) TableName() string { return "subscriptions" }
