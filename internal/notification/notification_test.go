package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/testutil"
)

func record(seq int64, typ, actor string, p model.RecordPayload) *model.MutationRecord {
	return &model.MutationRecord{Seq: seq, ID: uuid.New().String(), Type: typ, ActorID: actor, Payload: datatypes.NewJSONType(p)}
}

func TestRecipients(t *testing.T) {
	author, fan, root := testutil.Addr(1), testutil.Addr(2), testutil.Addr(3)

	ns := Recipients(record(1, model.RecordReact, fan, model.RecordPayload{PostID: "p1", AuthorID: author, ReactionType: "like"}))
	require.Len(t, ns, 1)
	assert.Equal(t, author, ns[0].RecipientID)
	assert.Equal(t, "like", ns[0].ActionType)
	assert.Equal(t, "p1", *ns[0].PostID)

	assert.Empty(t, Recipients(record(2, model.RecordReact, author, model.RecordPayload{PostID: "p1", AuthorID: author, ReactionType: "like"})),
		"reacting to your own post notifies nobody")

	ns = Recipients(record(3, model.RecordCreatePost, fan, model.RecordPayload{
		PostID: "c1", ParentID: "p1", ParentAuthorID: author, RootID: "r1", RootAuthorID: root,
	}))
	assert.Len(t, ns, 2, "parent and root authors")

	ns = Recipients(record(4, model.RecordCreatePost, fan, model.RecordPayload{
		PostID: "c2", ParentID: "p1", ParentAuthorID: author, RootID: "p1", RootAuthorID: author,
	}))
	assert.Len(t, ns, 1, "parent that is also the root is notified once")

	ns = Recipients(record(5, model.RecordJoinGroup, fan, model.RecordPayload{GroupID: "g1", GroupAdmins: []string{author, root, fan}}))
	assert.Len(t, ns, 2, "the joining member is not notified")

	assert.Empty(t, Recipients(record(6, model.RecordBlock, fan, model.RecordPayload{TargetID: author})))
}

func TestHandleBumpsRepeat(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	b := NewBuilder(config.NotificationConfig{BumpOnRepeat: true}, nil)
	author, fan := testutil.Addr(1), testutil.Addr(2)
	like := model.RecordPayload{PostID: "p1", AuthorID: author, ReactionType: "like"}

	require.NoError(t, b.Handle(ctx, db, record(1, model.RecordReact, fan, like)))
	inbox := NewInbox(db)
	n, err := inbox.MarkAllRead(ctx, author)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// unlike + like again produces a second react record
	require.NoError(t, b.Handle(ctx, db, record(3, model.RecordReact, fan, like)))

	list, err := inbox.List(ctx, author, false, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].Occurrences)
	assert.False(t, list[0].IsRead)
	assert.Equal(t, int64(3), list[0].RecordSeq)

	unread, err := inbox.UnreadCount(ctx, author)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestHandleWithoutBump(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	b := NewBuilder(config.NotificationConfig{BumpOnRepeat: false}, nil)
	author, fan := testutil.Addr(1), testutil.Addr(2)
	follow := model.RecordPayload{TargetID: author}

	require.NoError(t, b.Handle(ctx, db, record(1, model.RecordFollow, fan, follow)))
	inbox := NewInbox(db)
	_, err := inbox.MarkAllRead(ctx, author)
	require.NoError(t, err)
	require.NoError(t, b.Handle(ctx, db, record(2, model.RecordFollow, fan, follow)))

	list, err := inbox.List(ctx, author, false, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Occurrences)
	assert.True(t, list[0].IsRead)
}

func TestMarkReadOnlyOwnNotifications(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	b := NewBuilder(config.NotificationConfig{BumpOnRepeat: true}, nil)
	a, other, fan := testutil.Addr(1), testutil.Addr(2), testutil.Addr(3)

	require.NoError(t, b.Handle(ctx, db, record(1, model.RecordFollow, fan, model.RecordPayload{TargetID: a})))
	require.NoError(t, b.Handle(ctx, db, record(2, model.RecordFollow, fan, model.RecordPayload{TargetID: other})))
	inbox := NewInbox(db)
	theirs, err := inbox.List(ctx, other, true, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, theirs, 1)

	n, err := inbox.MarkRead(ctx, a, []string{theirs[0].ID})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = inbox.MarkRead(ctx, other, []string{theirs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPublisherDeliversToRedis(t *testing.T) {
	ctx := context.Background()
	_, rdb := testutil.NewRedis(t)
	author, fan := testutil.Addr(1), testutil.Addr(2)

	sub := rdb.Subscribe(ctx, Channel(author))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewPublisher(rdb, 16)
	stop := pub.Start(1)
	defer func() { _ = stop(ctx) }()

	b := NewBuilder(config.NotificationConfig{}, pub)
	b.AfterCommit(ctx, record(7, model.RecordFollow, fan, model.RecordPayload{TargetID: author}))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, ActionFollow, ev.ActionType)
		assert.Equal(t, fan, ev.ActorID)
		assert.Equal(t, int64(7), ev.RecordSeq)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
