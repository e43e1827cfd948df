// Package scanner runs the scan pipeline: feature extraction, threat-intel
// lookup, rules and model scoring, record creation and alerting.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/features"
	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/metrics"
	"github.com/raysh454/ztguard/internal/mlscore"
	"github.com/raysh454/ztguard/internal/rules"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/threat"
	"github.com/raysh454/ztguard/internal/utils"
	"golang.org/x/sync/errgroup"
)

// AlertSource is the Source of alerts raised by the scanner.
const AlertSource = "url_scanner"

type Config struct {
	MLTimeout         time.Duration    `yaml:"ml_timeout"`
	AutoBlockSeverity scoring.Severity `yaml:"auto_block_severity"`
	AutoAlertSeverity scoring.Severity `yaml:"auto_alert_severity"`
	BatchConcurrency  int              `yaml:"batch_concurrency"`
	MaxBatchSize      int              `yaml:"max_batch_size"`
}

func DefaultConfig() Config {
	return Config{
		MLTimeout:         2 * time.Second,
		AutoBlockSeverity: scoring.SeverityHigh,
		AutoAlertSeverity: scoring.SeverityHigh,
		BatchConcurrency:  8,
		MaxBatchSize:      100,
	}
}

func (c Config) Validate() error {
	if c.MLTimeout <= 0 {
		return fmt.Errorf("ml_timeout must be positive")
	}
	if !c.AutoBlockSeverity.IsValid() || !c.AutoAlertSeverity.IsValid() {
		return fmt.Errorf("invalid auto block/alert severity (%q, %q)", c.AutoBlockSeverity, c.AutoAlertSeverity)
	}
	if c.BatchConcurrency < 1 || c.MaxBatchSize < 1 {
		return fmt.Errorf("batch_concurrency and max_batch_size must be at least 1")
	}
	return nil
}

type Request struct {
	URL       string
	SourceIP  string
	UserAgent string
}

// Recorder is the part of threat.Service the scanner writes through.
type Recorder interface {
	Create(ctx context.Context, r *threat.Record) error
}

// Raiser is the part of alerts.Service the scanner raises through.
type Raiser interface {
	Raise(ctx context.Context, ev alerts.Event) (*alerts.Alert, bool, error)
}

// IntelChecker is the part of intel.Service consulted before scoring.
type IntelChecker interface {
	Check(domain string) intel.Match
}

type Deps struct {
	Extractor *features.Extractor
	Rules     *rules.Engine
	Combiner  *scoring.Combiner
	ML        mlscore.Provider
	// Semantic is optional.
	Semantic mlscore.Provider
	Intel    IntelChecker
	Threats  Recorder
	Alerts   Raiser
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

type Scanner struct {
	cfg Config
	d   Deps
	log logging.Logger
}

func New(cfg Config, d Deps) *Scanner {
	if d.ML == nil {
		d.ML = mlscore.Unavailable{}
	}
	return &Scanner{
		cfg: cfg,
		d:   d,
		log: d.Logger.With(logging.Field{Key: "component", Value: "scanner"}),
	}
}

// Scan scores one URL and persists the record. Only InvalidURL (nothing
// persisted) and persistence failures are returned as errors; model
// failures take the degraded path.
func (s *Scanner) Scan(ctx context.Context, req Request) (*threat.Record, error) {
	v, err := s.d.Extractor.Extract(req.URL)
	if err != nil {
		return nil, err
	}

	rec := &threat.Record{
		URL:       req.URL,
		Domain:    v.Domain(),
		Features:  v.Map(),
		SourceIP:  req.SourceIP,
		UserAgent: req.UserAgent,
	}

	var match intel.Match
	if s.d.Intel != nil && v.Domain() != "" {
		match = s.d.Intel.Check(v.Host)
	}

	ruleRes := s.d.Rules.Evaluate(req.URL, v)
	rec.RuleScore = ruleRes.Score
	rec.MatchedRules = ruleRes.Matches

	var res scoring.Result
	switch match.List {
	case intel.Whitelist:
		res = s.d.Combiner.Classify(0, false)
		res.Reason = "Domain is whitelisted"
		rec.IntelMatch = threat.IntelWhitelist
	case intel.Blacklist:
		res = s.d.Combiner.Classify(1, false)
		res.Reason = "Domain found in threat intelligence blacklist"
		rec.IntelMatch = threat.IntelBlacklist
	default:
		rec.MLScore = s.score(ctx, "ml", s.d.ML, v)
		if s.d.Semantic != nil {
			rec.SemanticScore = s.score(ctx, "semantic", s.d.Semantic, v)
		}
		res = s.d.Combiner.Combine(scoring.Signals{ML: rec.MLScore, Rule: rec.RuleScore, Semantic: rec.SemanticScore})
		if res.Degraded {
			s.d.Metrics.ScanDegraded()
		}
	}

	rec.Confidence = res.Confidence
	rec.Severity = res.Severity
	rec.IsPhishing = res.IsPhishing
	rec.Verdict = res.Verdict
	rec.Reason = res.Reason
	rec.Degraded = res.Degraded
	rec.Status = threat.InitialStatus(res.IsPhishing, res.Severity, s.cfg.AutoBlockSeverity)

	if err := s.d.Threats.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.d.Metrics.ScanCompleted(string(rec.Verdict), string(rec.Severity))
	for _, m := range rec.MatchedRules {
		s.d.Metrics.RuleMatched(m.Name)
	}
	s.log.Info("url scanned",
		logging.Field{Key: "id", Value: rec.ID},
		logging.Field{Key: "domain", Value: rec.Domain},
		logging.Field{Key: "confidence", Value: rec.Confidence},
		logging.Field{Key: "severity", Value: string(rec.Severity)},
		logging.Field{Key: "status", Value: string(rec.Status)})

	if rec.IsPhishing && rec.Severity.AtLeast(s.cfg.AutoAlertSeverity) && s.d.Alerts != nil {
		s.raise(ctx, rec)
	}
	return rec, nil
}

// score calls p under MLTimeout. Any failure yields nil; it is never
// retried.
func (s *Scanner) score(ctx context.Context, name string, p mlscore.Provider, v *features.Vector) *float64 {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.MLTimeout)
	defer cancel()

	start := time.Now()
	val, err := p.Score(cctx, v)
	val, err = mlscore.Checked("scanner."+name, val, err)
	if name == "ml" {
		s.d.Metrics.ObserveMLDuration(time.Since(start))
	}
	if err != nil {
		s.log.Warn("score provider unavailable, using degraded path",
			logging.Field{Key: "provider", Value: name},
			logging.Field{Key: "timeout", Value: errors.Is(err, context.DeadlineExceeded)},
			logging.Field{Key: "error", Value: err})
		return nil
	}
	return &val
}

func (s *Scanner) raise(ctx context.Context, rec *threat.Record) {
	id := rec.ID
	names := make([]string, len(rec.MatchedRules))
	for i, m := range rec.MatchedRules {
		names[i] = m.Name
	}
	_, _, err := s.d.Alerts.Raise(ctx, alerts.Event{
		Title:       "Phishing URL detected: " + rec.Domain,
		Description: fmt.Sprintf("%s (confidence %.2f): %s", rec.URL, rec.Confidence, rec.Reason),
		Severity:    rec.Severity,
		Type:        alerts.TypePhishingDetection,
		Source:      AlertSource,
		EntityKey:   utils.EntityKey(rec.URL),
		ThreatID:    &id,
		Metadata: map[string]any{
			"url":           rec.URL,
			"confidence":    rec.Confidence,
			"matched_rules": names,
			"status":        string(rec.Status),
		},
	})
	if err != nil {
		// the record is persisted; a failed alert does not fail the scan
		s.log.Error("failed to raise phishing alert",
			logging.Field{Key: "id", Value: rec.ID},
			logging.Field{Key: "error", Value: err})
	}
}

// BatchItem is the outcome for one URL of a batch. Exactly one of Record
// and Error is set.
type BatchItem struct {
	URL    string         `json:"url"`
	Record *threat.Record `json:"record,omitempty"`
	Error  string         `json:"error,omitempty"`
	Kind   apperr.Kind    `json:"error_kind,omitempty"`
}

// ScanBatch scans urls with bounded parallelism. Per-URL failures are
// reported per item; the batch fails only when ctx is cancelled.
func (s *Scanner) ScanBatch(ctx context.Context, urls []string, base Request) ([]BatchItem, error) {
	const op = "scanner.ScanBatch"
	if len(urls) == 0 {
		return nil, apperr.New(apperr.Validation, op, "no urls given")
	}
	if len(urls) > s.cfg.MaxBatchSize {
		return nil, apperr.New(apperr.Validation, op, "batch of %d exceeds the limit of %d", len(urls), s.cfg.MaxBatchSize)
	}

	out := make([]BatchItem, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req := base
			req.URL = u
			rec, err := s.Scan(gctx, req)
			out[i] = BatchItem{URL: u, Record: rec}
			if err != nil {
				out[i].Error = err.Error()
				out[i].Kind = apperr.KindOf(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
