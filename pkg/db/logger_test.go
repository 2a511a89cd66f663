package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func TestZapGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Info, true)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 2", 0 }, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 3", 0 }, logger.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "gorm.query", entries[0].Message)
	require.Equal(t, zap.ErrorLevel, entries[1].Level)
	require.Equal(t, zap.InfoLevel, entries[2].Level)

	silent := l.LogMode(logger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 4", 0 }, errors.New("ignored"))
	require.Len(t, logs.All(), 3)
}

func TestExtractDBName(t *testing.T) {
	require.Equal(t, "ledger", extractDBNameFromDSN("host=db port=5432 dbname=ledger sslmode=disable"))
	require.Equal(t, "ledger", extractDBNameFromDSN("user:pass@tcp(db:3306)/ledger?parseTime=True"))
	require.Equal(t, "unknown", extractDBNameFromDSN("host=db"))
}
