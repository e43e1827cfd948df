package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := metrics.New()
	m.ScanCompleted("malicious", "high")
	m.ScanCompleted("malicious", "high")
	m.RuleMatched("ip_literal_host")
	m.ObserveMLDuration(20 * time.Millisecond)
	m.AlertRaised("phishing_detection", "high")
	m.AlertDeduplicated()
	m.StatusTransition("active", "resolved")
	m.ConnectionRecorded(true)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "ztguard_scans_total" {
			found = true
			assert.Len(t, f.GetMetric(), 1)
		}
	}
	assert.True(t, found)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, name := range []string{
		`ztguard_scans_total{severity="high",verdict="malicious"} 2`,
		`ztguard_rule_matches_total{rule="ip_literal_host"} 1`,
		`ztguard_alerts_deduplicated_total 1`,
		`ztguard_status_transitions_total{from="active",to="resolved"} 1`,
		`ztguard_connections_total{outcome="blocked"} 1`,
		`ztguard_ml_score_duration_seconds_count 1`,
	} {
		assert.True(t, strings.Contains(text, name), "missing %s", name)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ScanCompleted("safe", "info")
	m.ScanDegraded()
	m.AlertRaised("manual", "low")
	assert.Nil(t, m.Registry())
}
