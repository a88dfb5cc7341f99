package service

import (
	"context"
	"fmt"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/apperror"
)

// Meta 每条命令都携带的字段。ActorID 由上游鉴权层给出，这里直接信任
type Meta struct {
	ActorID        string `json:"-" validate:"required,address"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
	// Strict turns duplicate or missing edges into a ConflictError.
	Strict bool `json:"strict,omitempty"`
}

// Command is any of the command structs below.
type Command interface {
	CommandType() string
	Metadata() *Meta
}

func (m *Meta) Metadata() *Meta { return m }

type CreateAccount struct {
	Meta
	Handle      *string        `json:"handle,omitempty" validate:"omitempty,min=2,max=32,alphanum"`
	DisplayName string         `json:"display_name" validate:"max=64"`
	Bio         string         `json:"bio" validate:"max=1024"`
	AvatarURL   string         `json:"avatar_url" validate:"omitempty,url,max=512"`
	Profile     map[string]any `json:"metadata,omitempty"`
}

type UpdateProfile struct {
	Meta
	Handle      *string `json:"handle,omitempty" validate:"omitempty,min=2,max=32,alphanum"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=64"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=1024"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitempty,url,max=512"`
}

// SetAccountFlags 审核操作；nil 字段保持不变
type SetAccountFlags struct {
	Meta
	TargetID string `json:"target_id" validate:"required,address"`
	Verified *bool  `json:"verified,omitempty"`
	Blocked  *bool  `json:"blocked,omitempty"`
	Pro      *bool  `json:"pro,omitempty"`
}

// Relation covers Follow, Unfollow, Block, Unblock, Mute and Unmute.
type Relation struct {
	Meta
	TargetID string `json:"target_id" validate:"required,address"`
}

type (
	Follow   struct{ Relation }
	Unfollow struct{ Relation }
	Block    struct{ Relation }
	Unblock  struct{ Relation }
	Mute     struct{ Relation }
	Unmute   struct{ Relation }
)

type AttachmentInput struct {
	URL       string `json:"url" validate:"required,max=1024"`
	MediaType string `json:"media_type" validate:"max=64"`
}

type CreatePost struct {
	Meta
	Content     string            `json:"content"`
	ParentID    *string           `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	QuotedID    *string           `json:"quoted_id,omitempty" validate:"omitempty,uuid"`
	Attachments []AttachmentInput `json:"attachments,omitempty" validate:"max=16,dive"`
}

// EditPost changes content and/or parent. An empty ParentID moves the post
// to the top level, so ParentID is checked by EditPost itself.
type EditPost struct {
	Meta
	PostID   string  `json:"post_id" validate:"required,uuid"`
	Content  *string `json:"content,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// PostRef covers commands whose only argument is a post.
type PostRef struct {
	Meta
	PostID string `json:"post_id" validate:"required,uuid"`
}

type (
	DeletePost struct{ PostRef }
	Repost     struct{ PostRef }
	Unrepost   struct{ PostRef }
	Bookmark   struct{ PostRef }
	Unbookmark struct{ PostRef }
)

type Reaction struct {
	Meta
	PostID string `json:"post_id" validate:"required,uuid"`
	Type   string `json:"type" validate:"required,oneof=like love laugh wow sad angry celebrate"`
}

type (
	React   struct{ Reaction }
	Unreact struct{ Reaction }
)

type Subscription struct {
	Meta
	TargetID string `json:"target_id" validate:"required,address"`
	Kind     string `json:"kind" validate:"omitempty,oneof=subscription super_follow"`
}

type (
	Subscribe   struct{ Subscription }
	Unsubscribe struct{ Subscription }
)

type CreateGroup struct {
	Meta
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=4096"`
}

type UpdateGroup struct {
	Meta
	GroupID     string  `json:"group_id" validate:"required,uuid"`
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=4096"`
}

// GroupRef covers commands whose only argument is a group.
type GroupRef struct {
	Meta
	GroupID string `json:"group_id" validate:"required,uuid"`
}

type (
	DeleteGroup struct{ GroupRef }
	JoinGroup   struct{ GroupRef }
	LeaveGroup  struct{ GroupRef }
)

type CreateConversation struct {
	Meta
	ParticipantID string `json:"participant_id" validate:"required,address"`
}

type SendMessage struct {
	Meta
	RecipientID string `json:"recipient_id" validate:"required,address"`
	Content     string `json:"content" validate:"required,max=4000"`
}

type CreateFeed struct {
	Meta
	Name     string `json:"name" validate:"required,max=64,ne=home"`
	Strategy string `json:"strategy" validate:"omitempty,oneof=push pull hybrid"`
}

type FeedItem struct {
	Meta
	FeedName string `json:"feed_name" validate:"required,max=64"`
	PostID   string `json:"post_id" validate:"required,uuid"`
}

type (
	AddFeedItem    struct{ FeedItem }
	RemoveFeedItem struct{ FeedItem }
)

func (*CreateAccount) CommandType() string      { return model.RecordCreateAccount }
func (*UpdateProfile) CommandType() string      { return model.RecordUpdateProfile }
func (*SetAccountFlags) CommandType() string    { return model.RecordSetAccountFlags }
func (*Follow) CommandType() string             { return model.RecordFollow }
func (*Unfollow) CommandType() string           { return model.RecordUnfollow }
func (*Block) CommandType() string              { return model.RecordBlock }
func (*Unblock) CommandType() string            { return model.RecordUnblock }
func (*Mute) CommandType() string               { return model.RecordMute }
func (*Unmute) CommandType() string             { return model.RecordUnmute }
func (*CreatePost) CommandType() string         { return model.RecordCreatePost }
func (*EditPost) CommandType() string           { return model.RecordEditPost }
func (*DeletePost) CommandType() string         { return model.RecordDeletePost }
func (*React) CommandType() string              { return model.RecordReact }
func (*Unreact) CommandType() string            { return model.RecordUnreact }
func (*Repost) CommandType() string             { return model.RecordRepost }
func (*Unrepost) CommandType() string           { return model.RecordUnrepost }
func (*Bookmark) CommandType() string           { return model.RecordBookmark }
func (*Unbookmark) CommandType() string         { return model.RecordUnbookmark }
func (*Subscribe) CommandType() string          { return model.RecordSubscribe }
func (*Unsubscribe) CommandType() string        { return model.RecordUnsubscribe }
func (*CreateGroup) CommandType() string        { return model.RecordCreateGroup }
func (*UpdateGroup) CommandType() string        { return model.RecordUpdateGroup }
func (*DeleteGroup) CommandType() string        { return model.RecordDeleteGroup }
func (*JoinGroup) CommandType() string          { return model.RecordJoinGroup }
func (*LeaveGroup) CommandType() string         { return model.RecordLeaveGroup }
func (*CreateConversation) CommandType() string { return model.RecordCreateConversation }
func (*SendMessage) CommandType() string        { return model.RecordSendMessage }
func (*CreateFeed) CommandType() string         { return model.RecordCreateFeed }
func (*AddFeedItem) CommandType() string        { return model.RecordAddFeedItem }
func (*RemoveFeedItem) CommandType() string     { return model.RecordRemoveFeedItem }

// Apply dispatches any command to its typed method.
func (g *Gateway) Apply(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case *CreateAccount:
		return g.CreateAccount(ctx, c)
	case *UpdateProfile:
		return g.UpdateProfile(ctx, c)
	case *SetAccountFlags:
		return g.SetAccountFlags(ctx, c)
	case *Follow:
		return g.Follow(ctx, c)
	case *Unfollow:
		return g.Unfollow(ctx, c)
	case *Block:
		return g.Block(ctx, c)
	case *Unblock:
		return g.Unblock(ctx, c)
	case *Mute:
		return g.Mute(ctx, c)
	case *Unmute:
		return g.Unmute(ctx, c)
	case *CreatePost:
		return g.CreatePost(ctx, c)
	case *EditPost:
		return g.EditPost(ctx, c)
	case *DeletePost:
		return g.DeletePost(ctx, c)
	case *React:
		return g.React(ctx, c)
	case *Unreact:
		return g.Unreact(ctx, c)
	case *Repost:
		return g.Repost(ctx, c)
	case *Unrepost:
		return g.Unrepost(ctx, c)
	case *Bookmark:
		return g.Bookmark(ctx, c)
	case *Unbookmark:
		return g.Unbookmark(ctx, c)
	case *Subscribe:
		return g.Subscribe(ctx, c)
	case *Unsubscribe:
		return g.Unsubscribe(ctx, c)
	case *CreateGroup:
		return g.CreateGroup(ctx, c)
	case *UpdateGroup:
		return g.UpdateGroup(ctx, c)
	case *DeleteGroup:
		return g.DeleteGroup(ctx, c)
	case *JoinGroup:
		return g.JoinGroup(ctx, c)
	case *LeaveGroup:
		return g.LeaveGroup(ctx, c)
	case *CreateConversation:
		return g.CreateConversation(ctx, c)
	case *SendMessage:
		return g.SendMessage(ctx, c)
	case *CreateFeed:
		return g.CreateFeed(ctx, c)
	case *AddFeedItem:
		return g.AddFeedItem(ctx, c)
	case *RemoveFeedItem:
		return g.RemoveFeedItem(ctx, c)
	case nil:
		return nil, apperror.Validation("nil command")
	default:
		return nil, apperror.Validation("unknown command %s", fmt.Sprintf("%T", cmd))
	}
}

var factories = map[string]func() Command{
	model.RecordCreateAccount:      func() Command { return new(CreateAccount) },
	model.RecordUpdateProfile:      func() Command { return new(UpdateProfile) },
	model.RecordSetAccountFlags:    func() Command { return new(SetAccountFlags) },
	model.RecordFollow:             func() Command { return new(Follow) },
	model.RecordUnfollow:           func() Command { return new(Unfollow) },
	model.RecordBlock:              func() Command { return new(Block) },
	model.RecordUnblock:            func() Command { return new(Unblock) },
	model.RecordMute:               func() Command { return new(Mute) },
	model.RecordUnmute:             func() Command { return new(Unmute) },
	model.RecordCreatePost:         func() Command { return new(CreatePost) },
	model.RecordEditPost:           func() Command { return new(EditPost) },
	model.RecordDeletePost:         func() Command { return new(DeletePost) },
	model.RecordReact:              func() Command { return new(React) },
	model.RecordUnreact:            func() Command { return new(Unreact) },
	model.RecordRepost:             func() Command { return new(Repost) },
	model.RecordUnrepost:           func() Command { return new(Unrepost) },
	model.RecordBookmark:           func() Command { return new(Bookmark) },
	model.RecordUnbookmark:         func() Command { return new(Unbookmark) },
	model.RecordSubscribe:          func() Command { return new(Subscribe) },
	model.RecordUnsubscribe:        func() Command { return new(Unsubscribe) },
	model.RecordCreateGroup:        func() Command { return new(CreateGroup) },
	model.RecordUpdateGroup:        func() Command { return new(UpdateGroup) },
	model.RecordDeleteGroup:        func() Command { return new(DeleteGroup) },
	model.RecordJoinGroup:          func() Command { return new(JoinGroup) },
	model.RecordLeaveGroup:         func() Command { return new(LeaveGroup) },
	model.RecordCreateConversation: func() Command { return new(CreateConversation) },
	model.RecordSendMessage:        func() Command { return new(SendMessage) },
	model.RecordCreateFeed:         func() Command { return new(CreateFeed) },
	model.RecordAddFeedItem:        func() Command { return new(AddFeedItem) },
	model.RecordRemoveFeedItem:     func() Command { return new(RemoveFeedItem) },
}

// NewCommand returns an empty command for a record type name such as
// "follow" or "create_post".
func NewCommand(typ string) (Command, bool) {
	f, ok := factories[typ]
	if !ok {
		return nil, false
	}
	return f(), true
}
