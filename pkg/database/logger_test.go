package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/socialsync/pkg/logger"
)

func observe(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })
	return logs
}

func TestGormLoggerRoutesThroughZap(t *testing.T) {
	logs := observe(t)
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l := newLogger(gormlogger.Warn)
	l.Trace(ctx, time.Now(), sql, nil)
	assert.Zero(t, logs.Len(), "fast queries are quiet at warn")

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	l.Trace(ctx, time.Now(), sql, errors.New("boom"))
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, "gorm slow query", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "gorm query failed", entries[1].Message)
	assert.Equal(t, "SELECT 1", entries[1].ContextMap()["sql"])

	l.Warn(ctx, "pool %d", 3)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "pool 3", logs.All()[0].Message)

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), sql, errors.New("boom"))
	silent.Error(ctx, "nope")
	assert.Equal(t, 1, logs.Len())
}
