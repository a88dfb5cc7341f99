package model

import (
	"regexp"
	"time"

	"gorm.io/datatypes"
)

// AddressLen 账户地址长度（40 位小写十六进制）
const AddressLen = 40

var addressRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsAddress reports whether s is a canonical account address.
func IsAddress(s string) bool { return addressRe.MatchString(s) }

// Account 账户
type Account struct {
	ID             string            `json:"id" gorm:"primaryKey;type:varchar(40)"`
	Handle         *string           `json:"handle,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	DisplayName    string            `json:"display_name" gorm:"type:varchar(64)"`
	Bio            string            `json:"bio" gorm:"type:text"`
	AvatarURL      string            `json:"avatar_url" gorm:"type:varchar(512)"`
	Verified       bool              `json:"verified" gorm:"not null;default:false"`
	Blocked        bool              `json:"blocked" gorm:"not null;default:false"`
	Pro            bool              `json:"pro" gorm:"not null;default:false"`
	FollowerCount  int64             `json:"follower_count" gorm:"not null;default:0"`
	FollowingCount int64             `json:"following_count" gorm:"not null;default:0"`
	PostCount      int64             `json:"post_count" gorm:"not null;default:0"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// HandleValue returns the handle or "" when unset.
func (a *Account) HandleValue() string {
	if a.Handle == nil {
		return ""
	}
	return *a.Handle
}
