package model

import "time"

// Group 群组（软删除）
type Group struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID     string     `json:"owner_id" gorm:"type:varchar(40);not null;index"`
	Name        string     `json:"name" gorm:"type:varchar(128);not null"`
	Description string     `json:"description" gorm:"type:text"`
	MemberCount int64      `json:"member_count" gorm:"not null;default:0"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Group) TableName() string { return "social_groups" }

const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// GroupMember 群成员
type GroupMember struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	GroupID   string `gorm:"type:varchar(36);not null;uniqueIndex:ux_group_member,priority:1"`
	AccountID string `gorm:"type:varchar(40);not null;uniqueIndex:ux_group_member,priority:2;index"`
	Role      string `gorm:"type:varchar(16);not null;default:member"`
	CreatedAt time.Time
}

func (GroupMember) TableName() string { return "group_members" }
