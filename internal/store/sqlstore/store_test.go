package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/network"
	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/threat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ztguard.db")
	s, err := Open(context.Background(), path, logging.Nop{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRebind(t *testing.T) {
	t.Parallel()
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	if got, want := Postgres.Rebind(q), "SELECT a FROM t WHERE b = $1 AND c = $2"; got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestOpen_SQLitePrefixAndReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite")
	s, err := Open(context.Background(), "sqlite://"+path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Dialect().Name != "sqlite" {
		t.Fatalf("dialect = %s", s.Dialect().Name)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()

	// migrations are idempotent
	s, err = Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s.Close()
}

func sampleRecord(id string, at time.Time) *threat.Record {
	ml := 0.91
	return &threat.Record{
		ID:         id,
		URL:        "http://192.168.1.1/login.php",
		Domain:     "192.168.1.1",
		IsPhishing: true,
		Confidence: 0.95,
		MLScore:    &ml,
		RuleScore:  1,
		Severity:   scoring.SeverityCritical,
		Status:     threat.StatusActive,
		Verdict:    scoring.VerdictMalicious,
		Reason:     "High confidence phishing detection",
		MatchedRules: []rules.MatchedRule{
			{Name: "ip_literal_host", Title: "IP address host", Score: 0.4, Severity: scoring.SeverityHigh},
		},
		Features:  map[string]any{"url_length": 28.0, "has_ip": true},
		ScannedAt: at,
		UpdatedAt: at,
		Version:   1,
	}
}

func TestThreatRecords_RoundTripAndCAS(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	r := sampleRecord("t1", base)
	if err := s.InsertRecord(ctx, r); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	got, err := s.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.MLScore == nil || *got.MLScore != 0.91 || got.SemanticScore != nil {
		t.Fatalf("scores not preserved: ml=%v semantic=%v", got.MLScore, got.SemanticScore)
	}
	if !got.ScannedAt.Equal(base) || len(got.MatchedRules) != 1 || got.Features["has_ip"] != true {
		t.Fatalf("record not preserved: %+v", got)
	}

	ok, err := s.UpdateRecordStatus(ctx, "t1", 1, threat.StatusBlocked, base.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}
	ok, err = s.UpdateRecordStatus(ctx, "t1", 1, threat.StatusResolved, base.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("stale CAS should fail: ok=%v err=%v", ok, err)
	}
	got, _ = s.GetRecord(ctx, "t1")
	if got.Status != threat.StatusBlocked || got.Version != 2 {
		t.Fatalf("status=%s version=%d", got.Status, got.Version)
	}

	if err := s.DeleteRecord(ctx, "t1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := s.GetRecord(ctx, "t1"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := s.DeleteRecord(ctx, "t1"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound on second delete, got %v", err)
	}
}

func TestThreatRecords_ListFiltersAndCounts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, u := range []string{"http://a.example.com/x", "http://b.example.org/100%_off", "http://c.test/"} {
		r := sampleRecord(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))
		r.URL = u
		r.Domain = []string{"example.com", "example.org", "c.test"}[i]
		if i == 2 {
			r.IsPhishing = false
			r.Severity = scoring.SeverityInfo
		}
		if err := s.InsertRecord(ctx, r); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}

	items, total, err := s.ListRecords(ctx, threat.Filter{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if total != 3 || len(items) != 2 || items[0].ID != "c" {
		t.Fatalf("total=%d len=%d first=%s", total, len(items), items[0].ID)
	}

	phish := true
	_, total, _ = s.ListRecords(ctx, threat.Filter{Page: 1, PageSize: 10, IsPhishing: &phish})
	if total != 2 {
		t.Fatalf("phishing filter total = %d, want 2", total)
	}

	items, total, _ = s.ListRecords(ctx, threat.Filter{Page: 1, PageSize: 10, Search: "100%"})
	if total != 1 || items[0].ID != "b" {
		t.Fatalf("search for literal %% matched %d records", total)
	}

	_, total, _ = s.ListRecords(ctx, threat.Filter{Page: 1, PageSize: 10, Search: "EXAMPLE"})
	if total != 2 {
		t.Fatalf("case-insensitive search total = %d, want 2", total)
	}

	c, err := s.RecordCounts(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("RecordCounts: %v", err)
	}
	if c.Total != 2 || c.Phishing != 1 || c.BySeverity[scoring.SeverityInfo] != 1 {
		t.Fatalf("counts = %+v", c)
	}
}

func sampleAlert(id, entity string, at time.Time) *alerts.Alert {
	return &alerts.Alert{
		ID:        id,
		Title:     "Phishing URL detected",
		Severity:  scoring.SeverityHigh,
		Type:      alerts.TypePhishingDetection,
		Source:    "url_scanner",
		EntityKey: entity,
		Metadata:  map[string]any{"url": entity},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestAlerts_InsertUnlessDuplicate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleAlert("a1", "http://evil.test", base)
	got, created, err := s.InsertUnlessDuplicate(ctx, first, base.Add(-10*time.Minute), 42)
	if err != nil || !created || got.ID != "a1" {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	dup := sampleAlert("a2", "http://evil.test", base.Add(5*time.Minute))
	got, created, err = s.InsertUnlessDuplicate(ctx, dup, base.Add(-5*time.Minute), 42)
	if err != nil || created || got.ID != "a1" {
		t.Fatalf("duplicate: created=%v id=%s err=%v", created, got.ID, err)
	}

	// outside the window a new alert is created
	late := sampleAlert("a3", "http://evil.test", base.Add(20*time.Minute))
	_, created, err = s.InsertUnlessDuplicate(ctx, late, base.Add(10*time.Minute), 42)
	if err != nil || !created {
		t.Fatalf("late insert: created=%v err=%v", created, err)
	}

	// acknowledged alerts do not suppress new ones
	if err := s.SetAlertFlags(ctx, "a3", true, true, base.Add(21*time.Minute)); err != nil {
		t.Fatalf("SetAlertFlags: %v", err)
	}
	again := sampleAlert("a4", "http://evil.test", base.Add(22*time.Minute))
	_, created, err = s.InsertUnlessDuplicate(ctx, again, base.Add(12*time.Minute), 42)
	if err != nil || !created {
		t.Fatalf("after ack: created=%v err=%v", created, err)
	}
}

func TestAlerts_FlagsAndBulk(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, sev := range []scoring.Severity{scoring.SeverityHigh, scoring.SeverityCritical, scoring.SeverityHigh} {
		a := sampleAlert(string(rune('x'+i)), "e"+string(rune('0'+i)), base.Add(time.Duration(i)*time.Minute))
		a.Severity = sev
		if err := s.InsertAlert(ctx, a); err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
	}

	if err := s.SetAlertFlags(ctx, "x", false, true, base.Add(time.Hour)); err != nil {
		t.Fatalf("SetAlertFlags: %v", err)
	}
	a, _ := s.GetAlert(ctx, "x")
	if !a.IsRead || !a.IsAcknowledged || a.AcknowledgedAt == nil {
		t.Fatalf("ack must imply read: %+v", a)
	}
	if err := s.SetAlertFlags(ctx, "missing", true, false, base); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	unread, err := s.UnreadAlerts(ctx, 10)
	if err != nil || len(unread) != 2 || unread[0].ID != "z" {
		t.Fatalf("UnreadAlerts: len=%d err=%v", len(unread), err)
	}

	high := scoring.SeverityHigh
	n, err := s.AcknowledgeAll(ctx, &high, base.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("AcknowledgeAll(high) = %d, %v", n, err)
	}
	n, _ = s.AcknowledgeAll(ctx, &high, base.Add(2*time.Hour))
	if n != 0 {
		t.Fatalf("second AcknowledgeAll(high) = %d, want 0", n)
	}

	c, err := s.AlertCounts(ctx)
	if err != nil {
		t.Fatalf("AlertCounts: %v", err)
	}
	if c.Total != 3 || c.Unread != 1 || c.Unacknowledged != 1 || c.BySeverity["critical"] != 1 {
		t.Fatalf("counts = %+v", c)
	}

	n, err = s.MarkAllRead(ctx, base.Add(3*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}

	stamps, err := s.AlertStamps(ctx, base.Add(30*time.Second))
	if err != nil || len(stamps) != 2 {
		t.Fatalf("AlertStamps: len=%d err=%v", len(stamps), err)
	}

	read := true
	items, total, err := s.ListAlerts(ctx, alerts.Filter{Page: 1, PageSize: 10, IsRead: &read})
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("ListAlerts: total=%d err=%v", total, err)
	}

	if err := s.DeleteAlert(ctx, "x"); err != nil {
		t.Fatalf("DeleteAlert: %v", err)
	}
	if _, err := s.GetAlert(ctx, "x"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestNetwork_ConnectionsAndBlocklist(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	conns := []*network.Connection{
		{ID: "c1", SourceIP: "10.0.0.2", DestinationIP: "203.0.113.9", Protocol: "TCP", BytesSent: 100, IsBlocked: true, Timestamp: base},
		{ID: "c2", SourceIP: "10.0.0.2", DestinationDomain: "example.com", Protocol: "UDP", BytesReceived: 50, Timestamp: base.Add(time.Minute)},
		{ID: "c3", SourceIP: "10.0.0.3", DestinationDomain: "example.com", Protocol: "TCP", BytesSent: 10, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, c := range conns {
		if err := s.InsertConnection(ctx, c); err != nil {
			t.Fatalf("InsertConnection: %v", err)
		}
	}

	list, err := s.ListConnections(ctx, 2)
	if err != nil || len(list) != 2 || list[0].ID != "c3" {
		t.Fatalf("ListConnections: len=%d err=%v", len(list), err)
	}

	st, err := s.ConnectionStats(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ConnectionStats: %v", err)
	}
	if st.TotalConnections != 3 || st.BlockedConnections != 1 || st.BytesSent != 110 || st.BytesReceived != 50 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ProtocolDistribution["TCP"] != 2 || len(st.TopDestinations) != 2 || st.TopDestinations[0].Destination != "example.com" {
		t.Fatalf("distribution = %+v top = %+v", st.ProtocolDistribution, st.TopDestinations)
	}

	if err := s.PutBlockedIP(ctx, network.BlockedIP{IP: "203.0.113.9", Reason: "scanner", BlockedAt: base}); err != nil {
		t.Fatalf("PutBlockedIP: %v", err)
	}
	if err := s.PutBlockedIP(ctx, network.BlockedIP{IP: "203.0.113.9", Reason: "updated", BlockedAt: base}); err != nil {
		t.Fatalf("PutBlockedIP upsert: %v", err)
	}
	ips, err := s.BlockedIPs(ctx)
	if err != nil || len(ips) != 1 || ips[0].Reason != "updated" {
		t.Fatalf("BlockedIPs = %+v, %v", ips, err)
	}
	if err := s.DeleteBlockedIP(ctx, "203.0.113.9"); err != nil {
		t.Fatalf("DeleteBlockedIP: %v", err)
	}
	if err := s.DeleteBlockedIP(ctx, "203.0.113.9"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestIntel_Entries(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutIntelEntry(ctx, intel.Entry{Domain: "evil.test", List: intel.Blacklist, Source: "manual", CreatedAt: base}); err != nil {
		t.Fatalf("PutIntelEntry: %v", err)
	}
	batch := []intel.Entry{
		{Domain: "evil.test", List: intel.Whitelist, Source: "manual", CreatedAt: base},
		{Domain: "bad.test", List: intel.Blacklist, Source: "feed", CreatedAt: base},
	}
	if err := s.PutIntelEntries(ctx, batch); err != nil {
		t.Fatalf("PutIntelEntries: %v", err)
	}
	es, err := s.IntelEntries(ctx)
	if err != nil || len(es) != 2 {
		t.Fatalf("IntelEntries = %+v, %v", es, err)
	}
	if es[1].Domain != "evil.test" || es[1].List != intel.Whitelist {
		t.Fatalf("upsert did not move domain: %+v", es[1])
	}
	if err := s.DeleteIntelEntry(ctx, intel.Blacklist, "evil.test"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("delete from wrong list: %v", err)
	}
	if err := s.DeleteIntelEntry(ctx, intel.Whitelist, "evil.test"); err != nil {
		t.Fatalf("DeleteIntelEntry: %v", err)
	}
}

func TestAlerts_InsertAcknowledgedIsRead(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleAlert("acked", "http://evil.test", base)
	a.IsAcknowledged = true
	a.AcknowledgedAt = &base
	if err := s.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	got, err := s.GetAlert(ctx, "acked")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !got.IsRead || !got.IsAcknowledged {
		t.Fatalf("acknowledged alert stored unread: %+v", got)
	}
}
