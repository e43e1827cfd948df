// Package network ingests already-computed connection records, keeps the IP
// blocklist and raises connection_blocked alerts.
package network

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/scoring"
)

// AlertSource is the Source of alerts raised by this package.
const AlertSource = "network"

type Connection struct {
	ID                string    `json:"id"`
	SourceIP          string    `json:"source_ip"`
	DestinationIP     string    `json:"destination_ip,omitempty"`
	DestinationDomain string    `json:"destination_domain,omitempty"`
	DestinationPort   int       `json:"destination_port,omitempty"`
	Protocol          string    `json:"protocol,omitempty"`
	BytesSent         int64     `json:"bytes_sent"`
	BytesReceived     int64     `json:"bytes_received"`
	IsBlocked         bool      `json:"is_blocked"`
	BlockReason       string    `json:"block_reason,omitempty"`
	ThreatScore       float64   `json:"threat_score"`
	Timestamp         time.Time `json:"timestamp"`
}

// Destination is the dedup subject of a connection: its IP, else its domain.
func (c *Connection) Destination() string {
	if c.DestinationIP != "" {
		return c.DestinationIP
	}
	return c.DestinationDomain
}

type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

type DestinationCount struct {
	Destination string `json:"destination"`
	Count       int    `json:"count"`
}

type Stats struct {
	TotalConnections     int                `json:"total_connections"`
	BlockedConnections   int                `json:"blocked_connections"`
	BytesSent            int64              `json:"bytes_sent"`
	BytesReceived        int64              `json:"bytes_received"`
	ProtocolDistribution map[string]int     `json:"protocol_distribution"`
	TopDestinations      []DestinationCount `json:"top_destinations"`
	BlockedIPs           int                `json:"blocked_ips_count"`
	PeriodHours          int                `json:"period_hours"`
}

type Store interface {
	InsertConnection(ctx context.Context, c *Connection) error
	ListConnections(ctx context.Context, limit int) ([]*Connection, error)
	// ConnectionStats fills every Stats field except BlockedIPs and PeriodHours.
	ConnectionStats(ctx context.Context, since time.Time, top int) (Stats, error)
	PutBlockedIP(ctx context.Context, b BlockedIP) error
	DeleteBlockedIP(ctx context.Context, ip string) error
	BlockedIPs(ctx context.Context) ([]BlockedIP, error)
}

// Raiser is the part of alerts.Service the monitor needs.
type Raiser interface {
	Raise(ctx context.Context, ev alerts.Event) (*alerts.Alert, bool, error)
}

// DomainChecker is the part of intel.Service the monitor needs.
type DomainChecker interface {
	Check(domain string) intel.Match
}

type Config struct {
	AlertSeverity scoring.Severity `yaml:"alert_severity"`
}

func DefaultConfig() Config {
	return Config{AlertSeverity: scoring.SeverityHigh}
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type Monitor struct {
	cfg     Config
	store   Store
	alerts  Raiser
	intel   DomainChecker
	clock   clockwork.Clock
	logger  logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	blocked map[string]BlockedIP
}

func NewMonitor(cfg Config, store Store, raiser Raiser, checker DomainChecker, clock clockwork.Clock, logger logging.Logger, m *metrics.Metrics) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if !cfg.AlertSeverity.IsValid() {
		cfg.AlertSeverity = DefaultConfig().AlertSeverity
	}
	return &Monitor{
		cfg:     cfg,
		store:   store,
		alerts:  raiser,
		intel:   checker,
		clock:   clock,
		logger:  logger.With(logging.Field{Key: "component", Value: "network"}),
		metrics: m,
		blocked: map[string]BlockedIP{},
	}
}

// Load restores the persisted blocklist.
func (m *Monitor) Load(ctx context.Context) error {
	list, err := m.store.BlockedIPs(ctx)
	if err != nil {
		return fmt.Errorf("load blocked ips: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range list {
		m.blocked[b.IP] = b
	}
	return nil
}

func parseIP(op, raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", apperr.New(apperr.Validation, op, "invalid ip address %q", raw)
	}
	return addr.Unmap().String(), nil
}

// Record persists c. A connection to a blocked IP or a blacklisted domain is
// marked blocked, and every blocked connection raises a connection_blocked
// alert keyed by its destination.
func (m *Monitor) Record(ctx context.Context, c Connection) (*Connection, error) {
	const op = "network.Record"
	src, err := parseIP(op, c.SourceIP)
	if err != nil {
		return nil, err
	}
	c.SourceIP = src
	if c.DestinationIP != "" {
		if c.DestinationIP, err = parseIP(op, c.DestinationIP); err != nil {
			return nil, err
		}
	}
	c.DestinationDomain = intel.Normalize(c.DestinationDomain)
	if c.Destination() == "" {
		return nil, apperr.New(apperr.Validation, op, "destination ip or domain is required")
	}
	if c.DestinationPort < 0 || c.DestinationPort > 65535 {
		return nil, apperr.New(apperr.Validation, op, "invalid port %d", c.DestinationPort)
	}
	c.Protocol = strings.ToUpper(strings.TrimSpace(c.Protocol))
	c.ID = uuid.NewString()
	if c.Timestamp.IsZero() {
		c.Timestamp = m.clock.Now().UTC()
	}

	if !c.IsBlocked {
		if b, ok := m.IsBlocked(c.DestinationIP); ok {
			c.IsBlocked, c.BlockReason = true, "destination ip blocked: "+b.Reason
		} else if m.intel != nil && c.DestinationDomain != "" {
			if match := m.intel.Check(c.DestinationDomain); match.List == intel.Blacklist {
				c.IsBlocked, c.BlockReason = true, "destination domain blacklisted: "+match.Matched
			}
		}
	}
	if c.IsBlocked && c.ThreatScore == 0 {
		c.ThreatScore = 1
	}

	if err := m.store.InsertConnection(ctx, &c); err != nil {
		return nil, err
	}
	m.metrics.ConnectionRecorded(c.IsBlocked)

	if c.IsBlocked && m.alerts != nil {
		m.raise(ctx, &c)
	}
	return &c, nil
}

func (m *Monitor) raise(ctx context.Context, c *Connection) {
	id := c.ID
	reason := c.BlockReason
	if reason == "" {
		reason = "connection blocked"
	}
	_, _, err := m.alerts.Raise(ctx, alerts.Event{
		Title:        "Blocked connection to " + c.Destination(),
		Description:  fmt.Sprintf("%s -> %s:%d (%s)", c.SourceIP, c.Destination(), c.DestinationPort, reason),
		Severity:     m.cfg.AlertSeverity,
		Type:         alerts.TypeConnectionBlocked,
		Source:       AlertSource,
		EntityKey:    c.Destination(),
		ConnectionID: &id,
		Metadata: map[string]any{
			"source_ip":        c.SourceIP,
			"destination_port": c.DestinationPort,
			"protocol":         c.Protocol,
		},
	})
	if err != nil {
		// the connection is already stored; the alert is best effort
		m.logger.Error("failed to raise connection alert",
			logging.Field{Key: "connection", Value: c.ID},
			logging.Field{Key: "error", Value: err})
	}
}

func (m *Monitor) Block(ctx context.Context, ip, reason string) (*BlockedIP, error) {
	addr, err := parseIP("network.Block", ip)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Manual block"
	}
	b := BlockedIP{IP: addr, Reason: reason, BlockedAt: m.clock.Now().UTC()}
	if err := m.store.PutBlockedIP(ctx, b); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.blocked[addr] = b
	m.mu.Unlock()
	m.logger.Info("ip blocked", logging.Field{Key: "ip", Value: addr}, logging.Field{Key: "reason", Value: reason})
	return &b, nil
}

func (m *Monitor) Unblock(ctx context.Context, ip string) error {
	const op = "network.Unblock"
	addr, err := parseIP(op, ip)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[addr]; !ok {
		return apperr.New(apperr.NotFound, op, "%s is not blocked", addr)
	}
	if err := m.store.DeleteBlockedIP(ctx, addr); err != nil && apperr.KindOf(err) != apperr.NotFound {
		return err
	}
	delete(m.blocked, addr)
	m.logger.Info("ip unblocked", logging.Field{Key: "ip", Value: addr})
	return nil
}

func (m *Monitor) IsBlocked(ip string) (BlockedIP, bool) {
	if ip == "" {
		return BlockedIP{}, false
	}
	if addr, err := netip.ParseAddr(ip); err == nil {
		ip = addr.Unmap().String()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocked[ip]
	return b, ok
}

// Blocked lists the blocked IPs, most recent first.
func (m *Monitor) Blocked() []BlockedIP {
	m.mu.RLock()
	out := make([]BlockedIP, 0, len(m.blocked))
	for _, b := range m.blocked {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].IP < out[j].IP
		}
		return out[i].BlockedAt.After(out[j].BlockedAt)
	})
	return out
}

// List returns the newest connections; limit defaults to 100, max 1000.
func (m *Monitor) List(ctx context.Context, limit int) ([]*Connection, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	out, err := m.store.ListConnections(ctx, limit)
	if out == nil && err == nil {
		out = []*Connection{}
	}
	return out, err
}

// Stats aggregates the connections of the last hours hours (default 24).
func (m *Monitor) Stats(ctx context.Context, hours int) (*Stats, error) {
	if hours < 1 {
		hours = 24
	}
	st, err := m.store.ConnectionStats(ctx, m.clock.Now().UTC().Add(-time.Duration(hours)*time.Hour), 10)
	if err != nil {
		return nil, err
	}
	if st.ProtocolDistribution == nil {
		st.ProtocolDistribution = map[string]int{}
	}
	if st.TopDestinations == nil {
		st.TopDestinations = []DestinationCount{}
	}
	m.mu.RLock()
	st.BlockedIPs = len(m.blocked)
	m.mu.RUnlock()
	st.PeriodHours = hours
	return &st, nil
}
