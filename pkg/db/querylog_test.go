package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

func traceOnce(q gormlogger.Interface, elapsed time.Duration, err error) {
	q.Trace(context.Background(), time.Now().Add(-elapsed), func() (string, int64) {
		return "SELECT * FROM payments", 3
	}, err)
}

func TestQueryLoggerReportsSlowAndFailedStatements(t *testing.T) {
	var buf bytes.Buffer
	q := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: &buf, Level: zerolog.DebugLevel}), 100*time.Millisecond)

	traceOnce(q, time.Millisecond, nil)
	assert.Zero(t, buf.Len())

	traceOnce(q, time.Millisecond, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len())

	traceOnce(q, time.Second, nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), "SELECT * FROM payments")

	buf.Reset()
	traceOnce(q, time.Millisecond, errors.New("relation does not exist"))
	assert.Contains(t, buf.String(), "query failed")
}

func TestQueryLoggerSilentMode(t *testing.T) {
	var buf bytes.Buffer
	q := newQueryLogger(logger.New(logger.Options{Output: &buf}), time.Millisecond).LogMode(gormlogger.Silent)

	traceOnce(q, time.Second, errors.New("boom"))
	assert.Zero(t, buf.Len())
}

func TestQueryLoggerWithoutServiceLogger(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}
