// Package alerts owns operator-facing alerts: deduplicated raising, the
// read/acknowledge lifecycle and bulk operations.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/ztguard/internal/scoring"
)

type Type string

const (
	TypePhishingDetection Type = "phishing_detection"
	TypeConnectionBlocked Type = "connection_blocked"
	TypeManual            Type = "manual"
)

func (t Type) IsValid() bool {
	switch t {
	case TypePhishingDetection, TypeConnectionBlocked, TypeManual:
		return true
	}
	return false
}

func ParseType(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown alert type %q", raw)
	}
	return t, nil
}

// Alert is a notification with a monotonic read/acknowledge lifecycle.
// IsAcknowledged implies IsRead.
type Alert struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Severity       scoring.Severity `json:"severity"`
	Type           Type             `json:"alert_type"`
	Source         string           `json:"source"`
	EntityKey      string           `json:"entity_key"`
	ThreatID       *string          `json:"threat_id,omitempty"`
	ConnectionID   *string          `json:"connection_id,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	IsRead         bool             `json:"is_read"`
	IsAcknowledged bool             `json:"is_acknowledged"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Normalize enforces acknowledged ⇒ read.
func (a *Alert) Normalize() {
	if a.IsAcknowledged {
		a.IsRead = true
	}
}

// Event is a request to raise an alert about (Source, EntityKey).
type Event struct {
	Title        string
	Description  string
	Severity     scoring.Severity
	Type         Type
	Source       string
	EntityKey    string
	ThreatID     *string
	ConnectionID *string
	Metadata     map[string]any
}

// Patch carries the PATCH /alerts/{id} body. Flags only move forward.
type Patch struct {
	IsRead         *bool `json:"is_read"`
	IsAcknowledged *bool `json:"is_acknowledged"`
}

type Filter struct {
	Page           int
	PageSize       int
	Severity       *scoring.Severity
	Type           *Type
	IsRead         *bool
	IsAcknowledged *bool
	Since          time.Time
	Until          time.Time
}

type Page struct {
	Items    []*Alert `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Pages    int      `json:"pages"`
}

// Counts: BySeverity and ByType cover unacknowledged alerts only.
type Counts struct {
	Total          int            `json:"total"`
	Unread         int            `json:"unread"`
	Unacknowledged int            `json:"unacknowledged"`
	BySeverity     map[string]int `json:"by_severity"`
	ByType         map[string]int `json:"by_type"`
}

// TimelineDay is the number of alerts created on one UTC date.
type TimelineDay struct {
	Date   string         `json:"date"`
	Counts map[string]int `json:"counts"`
}

// Stamp is the (creation time, severity) pair the timeline is built from.
type Stamp struct {
	CreatedAt time.Time
	Severity  scoring.Severity
}

// Store persists alerts. Every mutation is a single statement so concurrent
// callers never double-apply a flag.
type Store interface {
	// InsertUnlessDuplicate runs check-then-insert in one transaction: when an
	// unacknowledged alert with the same (Source, EntityKey) was created at or
	// after since, it is returned with created=false. lockKey identifies the
	// dedup subject for database-level locking.
	InsertUnlessDuplicate(ctx context.Context, a *Alert, since time.Time, lockKey int64) (*Alert, bool, error)
	InsertAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, f Filter) ([]*Alert, int, error)
	UnreadAlerts(ctx context.Context, limit int) ([]*Alert, error)
	// SetAlertFlags only ever sets flags; false arguments leave them as is.
	SetAlertFlags(ctx context.Context, id string, read, ack bool, at time.Time) error
	MarkAllRead(ctx context.Context, at time.Time) (int64, error)
	AcknowledgeAll(ctx context.Context, severity *scoring.Severity, at time.Time) (int64, error)
	DeleteAlert(ctx context.Context, id string) error
	AlertCounts(ctx context.Context) (Counts, error)
	AlertStamps(ctx context.Context, since time.Time) ([]Stamp, error)
}
