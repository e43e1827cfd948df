package alerts

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/scoring"
)

type Config struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
	// SubscriberBuffer is the per-subscriber channel size; a subscriber that
	// falls this far behind misses alerts.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

func DefaultConfig() Config {
	return Config{DedupWindow: 10 * time.Minute, SubscriberBuffer: 32}
}

const (
	DefaultPageSize     = 20
	MaxPageSize         = 100
	DefaultUnreadLimit  = 10
	MaxUnreadLimit      = 50
	DefaultTimelineDays = 7
	MaxTimelineDays     = 30
)

type Service struct {
	cfg     Config
	store   Store
	clock   clockwork.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
	locks   stripedLock

	subMu  sync.RWMutex
	subs   map[int]chan *Alert
	nextID int
}

func NewService(cfg Config, store Store, clock clockwork.Clock, logger logging.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		logger:  logger.With(logging.Field{Key: "component", Value: "alerts"}),
		metrics: m,
		subs:    map[int]chan *Alert{},
	}
}

// Raise creates an alert for ev unless an unacknowledged alert about the
// same (Source, EntityKey) was created within the dedup window, in which
// case that alert is returned unchanged with created=false.
func (s *Service) Raise(ctx context.Context, ev Event) (*Alert, bool, error) {
	const op = "alerts.Raise"
	a, err := s.fromEvent(ev)
	if err != nil {
		return nil, false, err
	}
	if a.Source == "" || a.EntityKey == "" {
		return nil, false, apperr.New(apperr.Validation, op, "source and entity key are required")
	}

	h := dedupHash(a.Source, a.EntityKey)
	unlock := s.locks.lock(h)
	defer unlock()

	since := a.CreatedAt.Add(-s.cfg.DedupWindow)
	got, created, err := s.store.InsertUnlessDuplicate(ctx, a, since, int64(h))
	if err != nil {
		s.logger.Error("failed to raise alert",
			logging.Field{Key: "source", Value: a.Source},
			logging.Field{Key: "entity", Value: a.EntityKey},
			logging.Field{Key: "error", Value: err})
		return nil, false, err
	}
	if !created {
		s.metrics.AlertDeduplicated()
		s.logger.Debug("alert deduplicated",
			logging.Field{Key: "id", Value: got.ID},
			logging.Field{Key: "entity", Value: a.EntityKey})
		return got, false, nil
	}
	s.announce(got)
	return got, true, nil
}

// Create inserts an alert without deduplication (manual alerts).
func (s *Service) Create(ctx context.Context, ev Event) (*Alert, error) {
	if ev.Type == "" {
		ev.Type = TypeManual
	}
	if ev.Source == "" {
		ev.Source = "manual"
	}
	a, err := s.fromEvent(ev)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertAlert(ctx, a); err != nil {
		return nil, err
	}
	s.announce(a)
	return a, nil
}

func (s *Service) fromEvent(ev Event) (*Alert, error) {
	const op = "alerts.validate"
	if strings.TrimSpace(ev.Title) == "" {
		return nil, apperr.New(apperr.Validation, op, "title is required")
	}
	if !ev.Severity.IsValid() {
		return nil, apperr.New(apperr.Validation, op, "invalid severity %q", ev.Severity)
	}
	if !ev.Type.IsValid() {
		return nil, apperr.New(apperr.Validation, op, "invalid alert type %q", ev.Type)
	}
	now := s.clock.Now().UTC()
	return &Alert{
		ID:           uuid.NewString(),
		Title:        ev.Title,
		Description:  ev.Description,
		Severity:     ev.Severity,
		Type:         ev.Type,
		Source:       ev.Source,
		EntityKey:    ev.EntityKey,
		ThreatID:     ev.ThreatID,
		ConnectionID: ev.ConnectionID,
		Metadata:     ev.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Service) announce(a *Alert) {
	s.metrics.AlertRaised(string(a.Type), string(a.Severity))
	s.logger.Info("alert raised",
		logging.Field{Key: "id", Value: a.ID},
		logging.Field{Key: "type", Value: string(a.Type)},
		logging.Field{Key: "severity", Value: string(a.Severity)})
	s.publish(a)
}

func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	return s.store.GetAlert(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize)
	items, total, err := s.store.ListAlerts(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Alert{}
	}
	return &Page{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Pages:    int(math.Ceil(float64(total) / float64(f.PageSize))),
	}, nil
}

// Unread returns the newest unread alerts; limit defaults to 10, max 50.
func (s *Service) Unread(ctx context.Context, limit int) ([]*Alert, error) {
	if limit < 1 {
		limit = DefaultUnreadLimit
	}
	if limit > MaxUnreadLimit {
		limit = MaxUnreadLimit
	}
	items, err := s.store.UnreadAlerts(ctx, limit)
	if items == nil && err == nil {
		items = []*Alert{}
	}
	return items, err
}

func (s *Service) MarkRead(ctx context.Context, id string) (*Alert, error) {
	return s.setFlags(ctx, id, true, false)
}

// Acknowledge marks the alert acknowledged and read.
func (s *Service) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	return s.setFlags(ctx, id, true, true)
}

// Update applies a PATCH. Clearing a flag that is set is an
// InvalidTransition; clearing one that is already clear is a no-op.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Alert, error) {
	const op = "alerts.Update"
	cur, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsRead != nil && !*p.IsRead {
		if cur.IsRead {
			return nil, apperr.New(apperr.InvalidTransition, op, "alert %s is already read", id)
		}
		if p.IsAcknowledged != nil && *p.IsAcknowledged {
			return nil, apperr.New(apperr.Validation, op, "an acknowledged alert is always read")
		}
	}
	if p.IsAcknowledged != nil && !*p.IsAcknowledged && cur.IsAcknowledged {
		return nil, apperr.New(apperr.InvalidTransition, op, "alert %s is already acknowledged", id)
	}

	read := p.IsRead != nil && *p.IsRead
	ack := p.IsAcknowledged != nil && *p.IsAcknowledged
	if !read && !ack {
		return cur, nil
	}
	return s.setFlags(ctx, id, read || ack, ack)
}

func (s *Service) setFlags(ctx context.Context, id string, read, ack bool) (*Alert, error) {
	if err := s.store.SetAlertFlags(ctx, id, read, ack, s.clock.Now().UTC()); err != nil {
		return nil, err
	}
	return s.store.GetAlert(ctx, id)
}

// MarkAllRead returns the number of alerts that changed.
func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.logger.Info("alerts marked read", logging.Field{Key: "count", Value: n})
	return n, nil
}

// AcknowledgeAll acknowledges every unacknowledged alert, optionally only of
// one severity, and returns how many changed. Concurrent calls split the
// work; no alert is acknowledged twice.
func (s *Service) AcknowledgeAll(ctx context.Context, severity *scoring.Severity) (int64, error) {
	const op = "alerts.AcknowledgeAll"
	if severity != nil && !severity.IsValid() {
		return 0, apperr.New(apperr.Validation, op, "invalid severity %q", *severity)
	}
	n, err := s.store.AcknowledgeAll(ctx, severity, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	s.logger.Info("alerts acknowledged", logging.Field{Key: "count", Value: n})
	return n, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAlert(ctx, id)
}

func (s *Service) Count(ctx context.Context) (*Counts, error) {
	c, err := s.store.AlertCounts(ctx)
	if err != nil {
		return nil, err
	}
	bySev := make(map[string]int, 5)
	for _, sev := range scoring.Severities() {
		bySev[string(sev)] = c.BySeverity[string(sev)]
	}
	byType := map[string]int{}
	for _, t := range []Type{TypePhishingDetection, TypeConnectionBlocked, TypeManual} {
		byType[string(t)] = c.ByType[string(t)]
	}
	c.BySeverity, c.ByType = bySev, byType
	return &c, nil
}

// Timeline returns per-day severity counts for the last days days (default
// 7, max 30), oldest first, with empty days included.
func (s *Service) Timeline(ctx context.Context, days int) ([]TimelineDay, error) {
	if days < 1 {
		days = DefaultTimelineDays
	}
	if days > MaxTimelineDays {
		days = MaxTimelineDays
	}
	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	stamps, err := s.store.AlertStamps(ctx, start)
	if err != nil {
		return nil, err
	}
	out := make([]TimelineDay, days)
	index := make(map[string]int, days)
	for i := range out {
		d := start.AddDate(0, 0, i).Format(time.DateOnly)
		counts := make(map[string]int, 5)
		for _, sev := range scoring.Severities() {
			counts[string(sev)] = 0
		}
		out[i] = TimelineDay{Date: d, Counts: counts}
		index[d] = i
	}
	for _, st := range stamps {
		if i, ok := index[st.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out[i].Counts[string(st.Severity)]++
		}
	}
	return out, nil
}

// Subscribe returns a channel receiving every alert created from now on and
// a function that ends the subscription.
func (s *Service) Subscribe() (<-chan *Alert, func()) {
	ch := make(chan *Alert, s.cfg.SubscriberBuffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(a *Alert) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- a:
		default:
			s.logger.Warn("alert subscriber is behind, dropping alert",
				logging.Field{Key: "subscriber", Value: id},
				logging.Field{Key: "alert", Value: a.ID})
		}
	}
}

func normalizePage(page, size int) (int, int) {
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
