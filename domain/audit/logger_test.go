package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homegraph/homegraph/internal/config"
	"github.com/homegraph/homegraph/pkg/logger"
)

func testAuditConfig(t *testing.T, queueSize int) *config.Config {
	t.Helper()
	return &config.Config{
		Audit: config.AuditConfig{
			SinkPath:         filepath.Join(t.TempDir(), "audit.log"),
			QueueSize:        queueSize,
			PatternWindow:    10 * time.Minute,
			PatternThreshold: 5,
			MaxSizeMB:        1,
			MaxBackups:       1,
		},
	}
}

func TestLoggerWritesEventsToSink(t *testing.T) {
	cfg := testAuditConfig(t, 16)
	a := NewLogger(cfg, logger.NewLogger())
	a.Start()

	a.Record(Event{Event: AuthSuccess, ClientIP: "10.0.0.1", SubjectID: "admin"})
	a.Record(Event{Event: AccessDenied, ClientIP: "10.0.0.2", RequestInfo: "POST /api/graph/entities"})
	require.NoError(t, a.Flush(context.Background()))

	f, err := os.Open(cfg.Audit.SinkPath)
	require.NoError(t, err)
	defer f.Close()

	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		kinds = append(kinds, rec["event"].(string))
		assert.NotEmpty(t, rec["severity"])
		assert.NotEmpty(t, rec["timestamp"])
	}
	assert.Equal(t, []string{"auth.success", "access.denied"}, kinds)
}

func TestLoggerDefaultsSeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, defaultSeverity(TokenIssued))
	assert.Equal(t, SeverityWarning, defaultSeverity(AuthFailure))
	assert.Equal(t, SeverityCritical, defaultSeverity(AuthLockout))
	assert.Equal(t, SeverityCritical, defaultSeverity(SuspiciousPattern))
}

func TestLoggerDropsOldestWhenFull(t *testing.T) {
	cfg := testAuditConfig(t, 2)
	a := NewLogger(cfg, logger.NewLogger())
	// Consumer deliberately not started: the queue fills up.

	before := testutil.ToFloat64(droppedEvents)
	for i := 0; i < 5; i++ {
		a.Record(Event{Event: TokenVerified, ClientIP: "10.0.0.1"})
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(droppedEvents)-before)
	assert.Len(t, a.queue, 2)
}
