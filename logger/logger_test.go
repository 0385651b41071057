package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Level(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New(Options{Level: "debug", Env: "test"}).GetLevel())
	assert.Equal(t, logrus.InfoLevel, New(Options{Level: "nonsense", Env: "test"}).GetLevel())
}

func TestErrorWithTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Env: "test"})
	log.SetOutput(&buf)

	traceID := ErrorWithTraceID(log, Fields{RequestIDKey: "01J0000000"}, "boom")
	assert.Equal(t, "01J0000000", traceID)
	assert.Contains(t, buf.String(), "01J0000000")

	buf.Reset()
	traceID = ErrorWithTraceID(log, nil, "boom")
	_, err := uuid.Parse(traceID)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), traceID)
}

func TestRequestIDContext(t *testing.T) {
	assert.Equal(t, "unknown", RequestID(context.Background()))

	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestID(ctx))

	entry := FromContext(ctx, New(Options{Env: "test"}))
	assert.Equal(t, "abc", entry.Data[RequestIDKey])
}
