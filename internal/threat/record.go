// Package threat owns the persisted outcome of a URL scan and its status
// workflow.
package threat

import (
	"context"
	"time"

	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scoring"
)

// Intel match values recorded on a Record.
const (
	IntelBlacklist = "blacklist"
	IntelWhitelist = "whitelist"
)

// Record is one scan result. Verdict fields are fixed at creation; only
// Status (and UpdatedAt/Version) change afterwards.
type Record struct {
	ID            string              `json:"id"`
	URL           string              `json:"url"`
	Domain        string              `json:"domain"`
	IsPhishing    bool                `json:"is_phishing"`
	Confidence    float64             `json:"confidence_score"`
	MLScore       *float64            `json:"ml_score"`
	RuleScore     float64             `json:"rule_score"`
	SemanticScore *float64            `json:"semantic_score,omitempty"`
	Severity      scoring.Severity    `json:"severity"`
	Status        Status              `json:"status"`
	Verdict       scoring.Verdict     `json:"verdict"`
	Reason        string              `json:"reason"`
	Degraded      bool                `json:"degraded"`
	IntelMatch    string              `json:"intel_match,omitempty"`
	MatchedRules  []rules.MatchedRule `json:"matched_rules"`
	Features      map[string]any      `json:"features"`
	SourceIP      string              `json:"source_ip,omitempty"`
	UserAgent     string              `json:"user_agent,omitempty"`
	ScannedAt     time.Time           `json:"scanned_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Version       int                 `json:"version"`
}

// Filter selects records for List. Zero values mean "any".
type Filter struct {
	Page       int
	PageSize   int
	IsPhishing *bool
	Severity   *scoring.Severity
	Status     *Status
	// Search matches a substring of the URL or the domain.
	Search string
	Domain string
	Since  time.Time
	Until  time.Time
}

// Page is one page of List results.
type Page struct {
	Items    []*Record `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Pages    int       `json:"pages"`
}

// Counts are the aggregates the store computes for Stats.
type Counts struct {
	Total      int
	Phishing   int
	Blocked    int
	BySeverity map[scoring.Severity]int
}

// Stats summarizes the scans of a period.
type Stats struct {
	TotalScans           int            `json:"total_scans"`
	PhishingDetected     int            `json:"phishing_detected"`
	Blocked              int            `json:"blocked"`
	DetectionRate        float64        `json:"detection_rate"`
	SeverityDistribution map[string]int `json:"severity_distribution"`
	PeriodDays           int            `json:"period_days"`
}

// DomainCount is one row of TopDomains.
type DomainCount struct {
	Domain      string           `json:"domain"`
	Count       int              `json:"count"`
	MaxSeverity scoring.Severity `json:"max_severity"`
}

// DomainSeverityCount counts phishing records per (domain, severity).
type DomainSeverityCount struct {
	Domain   string
	Severity scoring.Severity
	Count    int
}

// Store persists records. UpdateStatus is a compare-and-swap on
// (id, version) and reports whether the row was updated.
type Store interface {
	InsertRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, f Filter) ([]*Record, int, error)
	UpdateRecordStatus(ctx context.Context, id string, version int, to Status, at time.Time) (bool, error)
	DeleteRecord(ctx context.Context, id string) error
	RecordCounts(ctx context.Context, since time.Time) (Counts, error)
	PhishingDomainCounts(ctx context.Context, since time.Time) ([]DomainSeverityCount, error)
}
