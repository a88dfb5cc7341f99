// Package service is the command gateway: every write to the aggregate store
// goes through one command, one transaction and at most one mutation record.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/d60-Lab/socialsync/config"
	"github.com/d60-Lab/socialsync/internal/counter"
	"github.com/d60-Lab/socialsync/internal/model"
	"github.com/d60-Lab/socialsync/internal/repository"
	"github.com/d60-Lab/socialsync/pkg/apperror"
	"github.com/d60-Lab/socialsync/pkg/logger"
	"github.com/d60-Lab/socialsync/pkg/tracing"
)

// Result is what a command returns to its caller.
//
// Record is the mutation the command produced, or for a replayed key the one
// it produced the first time. A duplicate edge produces no record; Record then
// holds the latest record that touched the edge, if any.
type Result struct {
	Record    *model.MutationRecord `json:"record,omitempty"`
	EntityID  string                `json:"entity_id"`
	Duplicate bool                  `json:"duplicate,omitempty"`
	Replayed  bool                  `json:"replayed,omitempty"`
}

// Waker is notified after every commit that appended a record.
type Waker interface {
	Wake()
}

// Gateway 命令入口
type Gateway struct {
	store    *repository.Store
	counters *counter.Reconciler
	waker    Waker
	validate *validator.Validate

	moderators map[string]struct{}
	// 发帖时粉丝数不超过该值的作者走推模式
	pushThreshold int64

	timeout    time.Duration
	maxTries   uint
	initial    time.Duration
	maxDepth   int
	maxContent int
}

func NewGateway(store *repository.Store, counters *counter.Reconciler, cfg *config.Config, waker Waker) *Gateway {
	g := &Gateway{
		store:      store,
		counters:   counters,
		waker:      waker,
		validate:   newValidator(),
		timeout:    cfg.Command.Timeout,
		maxTries:   cfg.Command.MaxRetries + 1,
		initial:    cfg.Command.InitialBackoff,
		maxDepth:   cfg.Post.MaxDepth,
		maxContent: cfg.Post.MaxContentLen,

		moderators:    make(map[string]struct{}, len(cfg.Moderation.Accounts)),
		pushThreshold: cfg.Feed.PushThreshold,
	}
	for _, id := range cfg.Moderation.Accounts {
		g.moderators[id] = struct{}{}
	}
	if g.timeout <= 0 {
		g.timeout = 10 * time.Second
	}
	if g.initial <= 0 {
		g.initial = 20 * time.Millisecond
	}
	if g.maxDepth <= 0 {
		g.maxDepth = 64
	}
	return g
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		return model.IsAddress(fl.Field().String())
	})
	return v
}

// mutation collects what one attempt of a command changed.
type mutation struct {
	now      time.Time
	actor    string
	strict   bool
	kind     string
	id       string
	affected []model.EntityRef
	payload  model.RecordPayload

	entityID string
	// noop marks a command that found nothing to change: a duplicate edge
	// or the removal of an edge that does not exist.
	noop bool
	// absent distinguishes a missing edge from a duplicate one for strict mode.
	absent bool
	// unchanged marks an update that matched the stored state; strict mode
	// does not apply to it.
	unchanged bool
}

func (m *mutation) primary(kind, id string) {
	m.kind, m.id = kind, id
	m.touch(kind, id, "primary")
}

func (m *mutation) touch(kind, id, role string) {
	if id == "" {
		return
	}
	m.affected = append(m.affected, model.EntityRef{Kind: kind, ID: id, Role: role})
}

// duplicate marks an existing edge; absentEdge marks a missing one.
func (m *mutation) duplicate(entityID string) { m.noop, m.entityID = true, entityID }
func (m *mutation) absentEdge()               { m.noop, m.absent = true, true }
func (m *mutation) same(entityID string)      { m.noop, m.unchanged, m.entityID = true, true, entityID }

type body func(ctx context.Context, tx *repository.Store, m *mutation) error

// execute runs one command end to end. The caller's cancellation is ignored
// so an abandoned request still commits or fails on its own deadline.
func (g *Gateway) execute(ctx context.Context, typ string, cmd any, meta *Meta, fn body) (*Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "command."+typ)
	defer span.End()

	if err := g.validate.Struct(cmd); err != nil {
		return nil, g.fail(span, typ, validationError(err))
	}
	if meta.IdempotencyKey == "" {
		meta.IdempotencyKey = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("command.actor", meta.ActorID),
		attribute.String("command.idempotency_key", meta.IdempotencyKey),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.initial
	attempts := 0
	res, err := backoff.Retry(ctx, func() (*Result, error) {
		attempts++
		res, err := g.attempt(ctx, typ, meta, fn)
		if err == nil {
			return res, nil
		}
		if apperror.IsTransient(err) {
			logger.Debug("command retry", zap.String("type", typ), zap.Int("attempt", attempts), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(g.maxTries))
	span.SetAttributes(attribute.Int("command.attempts", attempts))
	if err != nil {
		return nil, g.fail(span, typ, apperror.Classify(err))
	}

	if res.Record != nil && !res.Replayed && !res.Duplicate && g.waker != nil {
		g.waker.Wake()
	}
	if res.Record != nil {
		span.SetAttributes(attribute.Int64("record.seq", res.Record.Seq))
	}
	return res, nil
}

func (g *Gateway) fail(span trace.Span, typ string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if apperror.KindOf(err) == apperror.KindTransient {
		logger.Warn("command failed after retries", zap.String("type", typ), zap.Error(err))
	}
	return err
}

func (g *Gateway) attempt(ctx context.Context, typ string, meta *Meta, fn body) (*Result, error) {
	var res *Result
	err := g.store.Transaction(ctx, func(tx *repository.Store) error {
		if prior, err := replay(ctx, tx, typ, meta); err != nil || prior != nil {
			res = prior
			return err
		}
		m := &mutation{now: time.Now().UTC().Truncate(time.Microsecond), actor: meta.ActorID, strict: meta.Strict}
		if err := fn(ctx, tx, m); err != nil {
			return err
		}
		if m.noop {
			// a concurrent submission of the same key may have just
			// created the edge this attempt found
			if prior, err := replay(ctx, tx, typ, meta); err != nil || prior != nil {
				res = prior
				return err
			}
			if m.strict && !m.unchanged {
				if m.absent {
					return apperror.Conflict("%s: nothing to remove", typ)
				}
				return apperror.Conflict("%s: already exists", typ)
			}
			latest, err := tx.Records.Latest(ctx, typ, meta.ActorID, m.id)
			if err != nil {
				return err
			}
			res = &Result{Record: latest, EntityID: m.entityID, Duplicate: true}
			return nil
		}

		rec := &model.MutationRecord{
			ID:             uuid.New().String(),
			Type:           typ,
			ActorID:        meta.ActorID,
			PrimaryKind:    m.kind,
			PrimaryID:      m.id,
			IdempotencyKey: meta.IdempotencyKey,
			CreatedAt:      m.now,
		}
		rec.Affected = datatypes.NewJSONType(m.affected)
		rec.Payload = datatypes.NewJSONType(m.payload)
		if err := tx.Records.Append(ctx, rec); err != nil {
			return err
		}
		if g.counters != nil {
			if err := g.counters.Apply(ctx, tx.DB(), rec); err != nil {
				return err
			}
		}
		entity := m.entityID
		if entity == "" {
			entity = m.id
		}
		res = &Result{Record: rec, EntityID: entity}
		return nil
	})
	return res, err
}

// replay returns the outcome already recorded under the command's
// idempotency key, or nil when the key is new.
func replay(ctx context.Context, tx *repository.Store, typ string, meta *Meta) (*Result, error) {
	prior, err := tx.Records.FindByKey(ctx, meta.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.Type != typ {
		return nil, apperror.Validation("idempotency key %q was used for %s", meta.IdempotencyKey, prior.Type)
	}
	return &Result{Record: prior, EntityID: prior.PrimaryID, Replayed: true}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return apperror.Validation("%s", strings.Join(msgs, "; "))
}
