package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/pkg/apperror"
	"github.com/d60-Lab/socialsync/pkg/logger"
)

// Consumer is one projection fed by the record stream. Handle runs inside the
// delivery transaction together with the receipt insert, so its effects commit
// at most once per idempotency key.
type Consumer interface {
	Name() string
	Handle(ctx context.Context, tx *gorm.DB, rec *model.MutationRecord) error
}

// AfterCommitter is implemented by consumers with side effects outside the
// database (cache writes, live pushes). It runs only after the delivery that
// produced the effect has committed.
type AfterCommitter interface {
	AfterCommit(ctx context.Context, rec *model.MutationRecord)
}

// Dispatcher 从 mutation_records 拉取待派发记录并投递给各消费者
type Dispatcher struct {
	db        *gorm.DB
	consumers []Consumer
	cfg       config.FanoutConfig
	wake      chan struct{}

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func NewDispatcher(db *gorm.DB, cfg config.FanoutConfig, consumers ...Consumer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 128
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Dispatcher{
		db:        db,
		consumers: consumers,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		// 1µs .. 1h, 3 significant digits
		hist: hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3),
	}
}

// Wake triggers an immediate poll. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start 启动若干 worker 轮询处理；返回停止函数（等待 worker 退出）
func (d *Dispatcher) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.loop(ctx)
		}()
	}
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
		for {
			n, err := d.ProcessOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("fanout poll failed", zap.Error(err))
				}
				break
			}
			if n < d.cfg.ClaimLimit {
				break
			}
		}
	}
}

// Drain processes due records until none are left. Records waiting out a
// retry backoff are not due.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		n, err := d.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// ProcessOnce claims one batch of due records and delivers them in seq order.
// It returns how many records were claimed.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := d.claim(ctx)
	if err != nil || len(batch) == 0 {
		return 0, err
	}
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		d.process(ctx, &batch[i])
	}
	return len(batch), nil
}

// claim leases a batch by pushing next_attempt_at past the lease, so a crashed
// worker's records become due again once the lease runs out.
func (d *Dispatcher) claim(ctx context.Context) ([]model.MutationRecord, error) {
	var batch []model.MutationRecord
	now := time.Now().UTC()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND next_attempt_at <= ?", model.RecordPending, now).
			Order("seq").
			Limit(d.cfg.ClaimLimit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		seqs := make([]int64, len(batch))
		for i, r := range batch {
			seqs[i] = r.Seq
		}
		return tx.Model(&model.MutationRecord{}).Where("seq IN ?", seqs).
			Update("next_attempt_at", now.Add(d.cfg.Lease)).Error
	})
	return batch, err
}

func (d *Dispatcher) process(ctx context.Context, rec *model.MutationRecord) {
	// consumers are independent; one failing must not cancel the others
	var g errgroup.Group
	for _, c := range d.consumers {
		c := c
		g.Go(func() error {
			delivered, err := d.deliver(ctx, c, rec)
			if err != nil {
				return apperror.Fanout(c.Name(), err)
			}
			if delivered {
				if ac, ok := c.(AfterCommitter); ok {
					ac.AfterCommit(ctx, rec)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.fail(ctx, rec, err)
		return
	}
	d.done(ctx, rec)
}

// deliver runs one consumer in its own transaction guarded by a receipt.
// It reports false when the receipt already existed.
func (d *Dispatcher) deliver(ctx context.Context, c Consumer, rec *model.MutationRecord) (bool, error) {
	delivered := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receipt := &model.DeliveryReceipt{IdempotencyKey: rec.IdempotencyKey, Consumer: c.Name(), RecordSeq: rec.Seq}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(receipt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := c.Handle(ctx, tx, rec); err != nil {
			return err
		}
		delivered = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return delivered, nil
}

func (d *Dispatcher) done(ctx context.Context, rec *model.MutationRecord) {
	now := time.Now().UTC()
	err := d.db.WithContext(ctx).Model(&model.MutationRecord{}).Where("seq = ?", rec.Seq).
		Updates(map[string]any{"status": model.RecordDone, "processed_at": now, "last_error": ""}).Error
	if err != nil {
		// lease expiry redelivers; receipts make that a no-op
		logger.Warn("fanout mark done failed", zap.Int64("seq", rec.Seq), zap.Error(err))
		return
	}
	if !rec.CreatedAt.IsZero() {
		d.mu.Lock()
		_ = d.hist.RecordValue(now.Sub(rec.CreatedAt).Microseconds())
		d.mu.Unlock()
	}
}

func (d *Dispatcher) fail(ctx context.Context, rec *model.MutationRecord, cause error) {
	attempts := rec.Attempts + 1
	fields := map[string]any{"attempts": attempts, "last_error": cause.Error()}
	dead := attempts >= d.cfg.MaxAttempts
	if dead {
		fields["status"] = model.RecordDead
	} else {
		fields["next_attempt_at"] = time.Now().UTC().Add(d.backoff(attempts))
	}
	if err := d.db.WithContext(ctx).Model(&model.MutationRecord{}).Where("seq = ?", rec.Seq).Updates(fields).Error; err != nil {
		logger.Warn("fanout mark failed failed", zap.Int64("seq", rec.Seq), zap.Error(err))
	}

	if dead {
		logger.Error("fanout record dead-lettered",
			zap.Int64("seq", rec.Seq),
			zap.String("type", rec.Type),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		sentry.CaptureException(fmt.Errorf("record %d dead-lettered: %w", rec.Seq, cause))
		return
	}
	logger.Warn("fanout delivery failed",
		zap.Int64("seq", rec.Seq),
		zap.String("type", rec.Type),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := d.cfg.BaseBackoff
	for i := 1; i < attempts && b < d.cfg.MaxBackoff; i++ {
		b *= 2
	}
	if b > d.cfg.MaxBackoff {
		b = d.cfg.MaxBackoff
	}
	return b
}

// Requeue puts a dead record back into the pending queue with a fresh
// attempt budget.
func (d *Dispatcher) Requeue(ctx context.Context, seq int64) error {
	res := d.db.WithContext(ctx).Model(&model.MutationRecord{}).
		Where("seq = ? AND status = ?", seq, model.RecordDead).
		Updates(map[string]any{
			"status":          model.RecordPending,
			"attempts":        0,
			"next_attempt_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("no dead record with seq %d", seq)
	}
	d.Wake()
	return nil
}

// Stats 派发落地延迟（记录创建 -> done）
type Stats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Stats{
		Count: d.hist.TotalCount(),
		Mean:  time.Duration(d.hist.Mean() * float64(time.Microsecond)),
		P50:   us(d.hist.ValueAtQuantile(50)),
		P95:   us(d.hist.ValueAtQuantile(95)),
		P99:   us(d.hist.ValueAtQuantile(99)),
	}
}

// Pending 返回待派发与死信数量
func (d *Dispatcher) Pending(ctx context.Context) (pending, dead int64, err error) {
	var rows []struct {
		Status string
		N      int64
	}
	err = d.db.WithContext(ctx).Model(&model.MutationRecord{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", []string{model.RecordPending, model.RecordDead}).
		Group("status").Scan(&rows).Error
	for _, r := range rows {
		switch r.Status {
		case model.RecordPending:
			pending = r.N
		case model.RecordDead:
			dead = r.N
		}
	}
	return pending, dead, err
}

var errNoConsumers = errors.New("fanout: no consumers registered")

// Validate reports configuration problems before Start.
func (d *Dispatcher) Validate() error {
	if len(d.consumers) == 0 {
		return errNoConsumers
	}
	seen := make(map[string]struct{}, len(d.consumers))
	for _, c := range d.consumers {
		if _, ok := seen[c.Name()]; ok {
			return fmt.Errorf("fanout: duplicate consumer %q", c.Name())
		}
		seen[c.Name()] = struct{}{}
	}
	return nil
}
