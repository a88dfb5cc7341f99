package counter

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/apperror"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// check pairs a counter column with the correlated subquery that recounts it
// from source rows. The outer row is aliased t.
type check struct {
	table   string
	column  string
	truth   string
	sharded bool
}

var checks = []check{
	{tableAccounts, FollowerCount, "SELECT COUNT(*) FROM follows x WHERE x.followee_id = t.id", false},
	{tableAccounts, FollowingCount, "SELECT COUNT(*) FROM follows x WHERE x.follower_id = t.id", false},
	{tableAccounts, PostCount, "SELECT COUNT(*) FROM posts x WHERE x.author_id = t.id AND x.deleted_at IS NULL", false},
	{tablePosts, LikesCount, "SELECT COUNT(*) FROM reactions x WHERE x.post_id = t.id", true},
	{tablePosts, CommentsCount, "SELECT COUNT(*) FROM posts x WHERE x.parent_id = t.id AND x.deleted_at IS NULL", true},
	{tablePosts, RepostsCount, "SELECT COUNT(*) FROM reposts x WHERE x.post_id = t.id", true},
	{tablePosts, QuotesCount, "SELECT COUNT(*) FROM posts x WHERE x.quoted_id = t.id AND x.deleted_at IS NULL", true},
	{tableGroups, MemberCount, "SELECT COUNT(*) FROM group_members x WHERE x.group_id = t.id", false},
}

// query reads live and true values in one statement so both come from the
// same snapshot.
func (c check) query() string {
	live := "t." + c.column
	if c.sharded {
		live = fmt.Sprintf("t.%s + COALESCE((SELECT CAST(SUM(s.value) AS BIGINT) FROM counter_shards s WHERE s.post_id = t.id AND s.field = '%s'), 0)", c.column, c.column)
	}
	return fmt.Sprintf("SELECT t.id AS id, %s AS live, (%s) AS truth FROM %s t WHERE t.id > ? ORDER BY t.id LIMIT ?",
		live, c.truth, c.table)
}

// Report 对账结果
type Report struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	Negative  int `json:"negative"`
}

type observation struct {
	ID    string
	Live  int64
	Truth int64
}

// Reconcile recounts every counter from its source rows and corrects drift
// by applying the difference as a delta, so increments that commit while the
// pass runs are kept. Negative live values are reported, never clamped.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	rep := &Report{}
	var errs error
	for _, c := range checks {
		if err := r.reconcileCheck(ctx, c, rep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s.%s: %w", c.table, c.column, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	logger.Info("counter reconcile finished",
		zap.Int("checked", rep.Checked),
		zap.Int("corrected", rep.Corrected),
		zap.Int("negative", rep.Negative),
		zap.Error(errs))
	return rep, errs
}

func (r *Reconciler) reconcileCheck(ctx context.Context, c check, rep *Report) error {
	var errs error
	after := ""
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return multierr.Append(errs, err)
		}
		var batch []observation
		if err := r.db.WithContext(ctx).Raw(c.query(), after, r.batch).Scan(&batch).Error; err != nil {
			return multierr.Append(errs, err)
		}
		for _, o := range batch {
			rep.Checked++
			if o.Live < 0 {
				rep.Negative++
				r.report(apperror.Divergence("negative counter %s.%s[%s] = %d", c.table, c.column, o.ID, o.Live), c, o)
			}
			if o.Live == o.Truth {
				continue
			}
			r.report(apperror.Divergence("counter %s.%s[%s] live=%d true=%d", c.table, c.column, o.ID, o.Live, o.Truth), c, o)
			if err := increment(r.db.WithContext(ctx), c.table, o.ID, c.column, o.Truth-o.Live); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			rep.Corrected++
		}
		if len(batch) < r.batch {
			return errs
		}
		after = batch[len(batch)-1].ID
	}
}

func (r *Reconciler) report(err error, c check, o observation) {
	logger.Warn("counter divergence",
		zap.String("table", c.table),
		zap.String("column", c.column),
		zap.String("id", o.ID),
		zap.Int64("live", o.Live),
		zap.Int64("true", o.Truth),
		zap.Error(err))
	sentry.CaptureException(err)
}

// Fold moves unfolded shard values into the post rows. Each shard is reduced
// by exactly the amount folded, so increments racing with the fold survive.
func (r *Reconciler) Fold(ctx context.Context) (int, error) {
	if r.shards <= 1 {
		return 0, nil
	}
	folded := 0
	var last model.CounterShard
	for {
		if err := ctx.Err(); err != nil {
			return folded, err
		}
		var batch []model.CounterShard
		q := r.db.WithContext(ctx).Where("value <> 0")
		if last.PostID != "" {
			q = q.Where("post_id > ? OR (post_id = ? AND (field > ? OR (field = ? AND shard > ?)))",
				last.PostID, last.PostID, last.Field, last.Field, last.Shard)
		}
		if err := q.Order("post_id, field, shard").Limit(r.batch).Find(&batch).Error; err != nil {
			return folded, err
		}
		for _, s := range batch {
			if err := r.foldShard(ctx, s); err != nil {
				return folded, fmt.Errorf("fold %s.%s#%d: %w", s.PostID, s.Field, s.Shard, err)
			}
			folded++
		}
		if len(batch) < r.batch {
			return folded, nil
		}
		last = batch[len(batch)-1]
	}
}

func (r *Reconciler) foldShard(ctx context.Context, s model.CounterShard) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CounterShard{}).
			Where("post_id = ? AND field = ? AND shard = ?", s.PostID, s.Field, s.Shard).
			UpdateColumn("value", gorm.Expr("value - ?", s.Value))
		if res.Error != nil {
			return res.Error
		}
		return increment(tx, tablePosts, s.PostID, s.Field, s.Value)
	})
}

// Schedule registers the fold and reconcile passes on c. An empty spec
// disables that pass.
func (r *Reconciler) Schedule(c *cron.Cron, foldSpec, reconcileSpec string) error {
	if foldSpec != "" {
		if _, err := c.AddFunc(foldSpec, func() {
			if n, err := r.Fold(context.Background()); err != nil {
				logger.Error("counter fold failed", zap.Int("folded", n), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule fold: %w", err)
		}
	}
	if reconcileSpec != "" {
		if _, err := c.AddFunc(reconcileSpec, func() {
			_, _ = r.Reconcile(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
	}
	return nil
}
