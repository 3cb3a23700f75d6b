package service

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_WrapsKeepingNewest(t *testing.T) {
	b := NewLogBuffer(3)
	assert.Empty(t, b.Records())

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		b.Add(LogRecord{Message: msg})
	}
	var got []string
	for _, r := range b.Records() {
		got = append(got, r.Message)
	}
	assert.Equal(t, []string{"c", "d", "e"}, got)
}

func TestLogSink_RoutesByTenantField(t *testing.T) {
	sink := NewLogSink(MaxLogRecords)
	log := testLogger()
	log.AddHook(sink)

	log.WithField(TenantField, "b1").WithError(errors.New("boom")).Warn("connect failed")
	log.WithField(TenantField, "b2").Info("tenant connected")
	log.Info("process started")

	records := sink.Records("b1")
	require.Len(t, records, 1)
	assert.Equal(t, "connect failed", records[0].Message)
	assert.Equal(t, "warning", records[0].Level)
	assert.Equal(t, map[string]string{logrus.ErrorKey: "boom"}, records[0].Fields)

	assert.Len(t, sink.Records("b2"), 1)
	assert.Nil(t, sink.Records("unknown"))
}

func TestLogSink_BufferIsCapped(t *testing.T) {
	sink := NewLogSink(MaxLogRecords)
	log := testLogger()
	log.AddHook(sink)

	entry := log.WithField(TenantField, "b1")
	for i := 0; i < MaxLogRecords+50; i++ {
		entry.WithField("i", i).Info("tick")
	}
	records := sink.Records("b1")
	require.Len(t, records, MaxLogRecords)
	assert.Equal(t, "50", records[0].Fields["i"])
	assert.Same(t, sink.Buffer("b1"), sink.Buffer("b1"))
}
