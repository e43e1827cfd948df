package threat

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/scoring"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Service struct {
	store   Store
	clock   clockwork.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, clock clockwork.Clock, logger logging.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		store:   store,
		clock:   clock,
		logger:  logger.With(logging.Field{Key: "component", Value: "threat"}),
		metrics: m,
	}
}

// Create persists a new record. ID, timestamps and Version are assigned
// here; Status defaults to active.
func (s *Service) Create(ctx context.Context, r *Record) error {
	const op = "threat.Create"
	if r.Status == "" {
		r.Status = StatusActive
	}
	if !r.Status.IsValid() {
		return apperr.New(apperr.Validation, op, "invalid status %q", r.Status)
	}
	if !r.Severity.IsValid() {
		return apperr.New(apperr.Validation, op, "invalid severity %q", r.Severity)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.clock.Now().UTC()
	if r.ScannedAt.IsZero() {
		r.ScannedAt = now
	}
	r.UpdatedAt = r.ScannedAt
	r.Version = 1

	if err := s.store.InsertRecord(ctx, r); err != nil {
		s.logger.Error("failed to persist threat record",
			logging.Field{Key: "url", Value: r.URL},
			logging.Field{Key: "error", Value: err})
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.GetRecord(ctx, id)
}

// List returns one page of records, newest first.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	f.Page, f.PageSize = NormalizePage(f.Page, f.PageSize)
	f.Search = strings.TrimSpace(f.Search)
	items, total, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Record{}
	}
	return &Page{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Pages:    int(math.Ceil(float64(total) / float64(f.PageSize))),
	}, nil
}

// Stats summarizes the last days days of scans.
func (s *Service) Stats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.clock.Now().UTC().AddDate(0, 0, -days)
	c, err := s.store.RecordCounts(ctx, since)
	if err != nil {
		return nil, err
	}
	dist := make(map[string]int, 5)
	for _, sev := range scoring.Severities() {
		dist[string(sev)] = c.BySeverity[sev]
	}
	st := &Stats{
		TotalScans:           c.Total,
		PhishingDetected:     c.Phishing,
		Blocked:              c.Blocked,
		SeverityDistribution: dist,
		PeriodDays:           days,
	}
	if c.Total > 0 {
		st.DetectionRate = math.Round(float64(c.Phishing)/float64(c.Total)*1e4) / 100
	}
	return st, nil
}

// Limits for TopDomains.
const (
	DefaultTopDomains = 10
	MaxTopDomains     = 50
)

// TopDomains ranks the domains of phishing records from the last days days
// by record count, then by worst severity.
func (s *Service) TopDomains(ctx context.Context, days, limit int) ([]DomainCount, error) {
	if days <= 0 {
		days = 7
	}
	switch {
	case limit <= 0:
		limit = DefaultTopDomains
	case limit > MaxTopDomains:
		limit = MaxTopDomains
	}
	rows, err := s.store.PhishingDomainCounts(ctx, s.clock.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	byDomain := map[string]*DomainCount{}
	for _, r := range rows {
		dc, ok := byDomain[r.Domain]
		if !ok {
			dc = &DomainCount{Domain: r.Domain, MaxSeverity: r.Severity}
			byDomain[r.Domain] = dc
		}
		dc.Count += r.Count
		if r.Severity.Rank() > dc.MaxSeverity.Rank() {
			dc.MaxSeverity = r.Severity
		}
	}
	out := make([]DomainCount, 0, len(byDomain))
	for _, dc := range byDomain {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.MaxSeverity != b.MaxSeverity {
			return a.MaxSeverity.Rank() > b.MaxSeverity.Rank()
		}
		return a.Domain < b.Domain
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a record. Administrative only; the engine never calls it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	s.logger.Info("threat record deleted", logging.Field{Key: "id", Value: id})
	return nil
}

// Transition moves a record along the status graph. Requesting the current
// status is a no-op. A lost compare-and-swap is a no-op when the winner
// reached the same status and a Conflict otherwise.
func (s *Service) Transition(ctx context.Context, id string, to Status) (*Record, error) {
	const op = "threat.Transition"
	if !to.IsValid() {
		return nil, apperr.New(apperr.Validation, op, "invalid status %q", to)
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == to {
		return rec, nil
	}
	if !CanTransition(rec.Status, to) {
		return nil, apperr.New(apperr.InvalidTransition, op, "cannot move from %s to %s", rec.Status, to)
	}

	now := s.clock.Now().UTC()
	ok, err := s.store.UpdateRecordStatus(ctx, id, rec.Version, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.store.GetRecord(ctx, id)
		if err == nil && cur.Status == to {
			return cur, nil
		}
		return nil, apperr.New(apperr.Conflict, op, "record %s was modified concurrently", id)
	}

	from := rec.Status
	rec.Status = to
	rec.UpdatedAt = now
	rec.Version++
	s.metrics.StatusTransition(string(from), string(to))
	s.logger.Info("threat status changed",
		logging.Field{Key: "id", Value: id},
		logging.Field{Key: "from", Value: string(from)},
		logging.Field{Key: "to", Value: string(to)})
	return rec, nil
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
