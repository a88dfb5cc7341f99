package counter

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/testutil"
)

func record(typ, actor string, p model.RecordPayload) *model.MutationRecord {
	return &model.MutationRecord{
		ID:      uuid.New().String(),
		Type:    typ,
		ActorID: actor,
		Payload: datatypes.NewJSONType(p),
	}
}

func seedPost(t *testing.T, db *gorm.DB, author string) *model.Post {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&model.Account{ID: author, CreatedAt: now, UpdatedAt: now}).Error)
	p := &model.Post{ID: uuid.New().String(), AuthorID: author, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestDeltas(t *testing.T) {
	a, b := testutil.Addr(1), testutil.Addr(2)

	ds := Deltas(record(model.RecordFollow, a, model.RecordPayload{TargetID: b}))
	assert.ElementsMatch(t, []Delta{
		{Table: tableAccounts, ID: b, Column: FollowerCount, Amount: 1},
		{Table: tableAccounts, ID: a, Column: FollowingCount, Amount: 1},
	}, ds)

	ds = Deltas(record(model.RecordCreatePost, a, model.RecordPayload{AuthorID: a, ParentID: "p", QuotedID: "q"}))
	assert.ElementsMatch(t, []Delta{
		{Table: tableAccounts, ID: a, Column: PostCount, Amount: 1},
		{Table: tablePosts, ID: "p", Column: CommentsCount, Amount: 1},
		{Table: tablePosts, ID: "q", Column: QuotesCount, Amount: 1},
	}, ds)

	ds = Deltas(record(model.RecordEditPost, a, model.RecordPayload{Reparented: true, OldParentID: "old", ParentID: "new"}))
	assert.ElementsMatch(t, []Delta{
		{Table: tablePosts, ID: "old", Column: CommentsCount, Amount: -1},
		{Table: tablePosts, ID: "new", Column: CommentsCount, Amount: 1},
	}, ds)

	assert.Empty(t, Deltas(record(model.RecordEditPost, a, model.RecordPayload{ContentChanged: true})))
	assert.Empty(t, Deltas(record(model.RecordBlock, a, model.RecordPayload{TargetID: b})), "blocks never touch counters")
}

func TestShardFor(t *testing.T) {
	assert.Equal(t, 0, ShardFor("anything", 1))
	s := ShardFor("key", 16)
	assert.Equal(t, s, ShardFor("key", 16))
	assert.GreaterOrEqual(t, s, 0)
	assert.Less(t, s, 16)
}

func TestShardedApplyReadFold(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	r := NewReconciler(db, config.CounterConfig{Shards: 8})
	p := seedPost(t, db, testutil.Addr(1))

	for i := 0; i < 20; i++ {
		rec := record(model.RecordReact, testutil.Addr(100+i), model.RecordPayload{PostID: p.ID})
		require.NoError(t, r.Apply(ctx, db, rec))
	}

	var row model.Post
	require.NoError(t, db.First(&row, "id = ?", p.ID).Error)
	assert.Zero(t, row.LikesCount, "hot deltas land in shards")

	c, err := r.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.Likes)

	n, err := r.Fold(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	require.NoError(t, db.First(&row, "id = ?", p.ID).Error)
	assert.Equal(t, int64(20), row.LikesCount)
	c, err = r.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.Likes, "fold does not change the observed value")

	n, err = r.Fold(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to fold")
}

func TestReconcileCorrectsDrift(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	r := NewReconciler(db, config.CounterConfig{Shards: 1})
	a, b := testutil.Addr(1), testutil.Addr(2)
	p := seedPost(t, db, a)
	now := time.Now().UTC()
	require.NoError(t, db.Create(&model.Account{ID: b, CreatedAt: now, UpdatedAt: now}).Error)

	// b follows a, but the counters were never applied; a's post_count is also off
	require.NoError(t, db.Create(&model.Follow{ID: uuid.New().String(), FollowerID: b, FolloweeID: a}).Error)
	require.NoError(t, db.Model(&model.Account{}).Where("id = ?", a).UpdateColumn("post_count", 5).Error)
	require.NoError(t, db.Model(&model.Post{}).Where("id = ?", p.ID).UpdateColumn("likes_count", -2).Error)

	rep, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Negative)
	assert.Equal(t, 4, rep.Corrected, "follower, following, post and likes counts")

	var acc model.Account
	require.NoError(t, db.First(&acc, "id = ?", a).Error)
	assert.Equal(t, int64(1), acc.FollowerCount)
	assert.Equal(t, int64(1), acc.PostCount)
	var follower model.Account
	require.NoError(t, db.First(&follower, "id = ?", b).Error)
	assert.Equal(t, int64(1), follower.FollowingCount)

	c, err := r.Read(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, c.Likes)

	rep, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Corrected, "second pass finds nothing")
}
