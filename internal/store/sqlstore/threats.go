package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/threat"
)

const threatColumns = `id, url, domain, is_phishing, confidence, ml_score, rule_score,
	semantic_score, severity, status, verdict, reason, degraded, intel_match,
	matched_rules, features, source_ip, user_agent, scanned_at, updated_at, version`

func (s *Store) InsertRecord(ctx context.Context, r *threat.Record) error {
	matched, err := json.Marshal(r.MatchedRules)
	if err != nil {
		return fmt.Errorf("encode matched rules: %w", err)
	}
	feats, err := json.Marshal(r.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO threat_records (`+threatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.URL, r.Domain, r.IsPhishing, r.Confidence, nullFloat(r.MLScore), r.RuleScore,
		nullFloat(r.SemanticScore), string(r.Severity), string(r.Status), string(r.Verdict), r.Reason,
		r.Degraded, r.IntelMatch, string(matched), string(feats), r.SourceIP, r.UserAgent,
		toMillis(r.ScannedAt), toMillis(r.UpdatedAt), r.Version)
	if err != nil {
		return fmt.Errorf("insert threat record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*threat.Record, error) {
	row := s.queryRow(ctx, `SELECT `+threatColumns+` FROM threat_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "threat.Get", "threat %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get threat record: %w", err)
	}
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context, f threat.Filter) ([]*threat.Record, int, error) {
	var w where
	if f.IsPhishing != nil {
		w.add("is_phishing = ?", *f.IsPhishing)
	}
	if f.Severity != nil {
		w.add("severity = ?", string(*f.Severity))
	}
	if f.Status != nil {
		w.add("status = ?", string(*f.Status))
	}
	if f.Domain != "" {
		w.add("domain = ?", f.Domain)
	}
	if f.Search != "" {
		p := likePattern(f.Search)
		w.add(`(LOWER(url) LIKE ? ESCAPE '\' OR LOWER(domain) LIKE ? ESCAPE '\')`, p, p)
	}
	if !f.Since.IsZero() {
		w.add("scanned_at >= ?", toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		w.add("scanned_at < ?", toMillis(f.Until))
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM threat_records`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threat records: %w", err)
	}

	args := append(append([]any{}, w.args...), f.PageSize, offset(f.Page, f.PageSize))
	rows, err := s.query(ctx, `SELECT `+threatColumns+` FROM threat_records`+w.String()+
		` ORDER BY scanned_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list threat records: %w", err)
	}
	defer rows.Close()

	out := []*threat.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan threat record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate threat records: %w", err)
	}
	return out, total, nil
}

func (s *Store) UpdateRecordStatus(ctx context.Context, id string, version int, to threat.Status, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `UPDATE threat_records
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(to), toMillis(at), id, version)
	if err != nil {
		return false, fmt.Errorf("update threat status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update threat status: %w", err)
	}
	return n == 1, nil
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM threat_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete threat record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "threat.Delete", "threat %s not found", id)
	}
	return nil
}

func (s *Store) RecordCounts(ctx context.Context, since time.Time) (threat.Counts, error) {
	c := threat.Counts{BySeverity: map[scoring.Severity]int{}}
	ms := toMillis(since)
	err := s.queryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_phishing = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM threat_records WHERE scanned_at >= ?`,
		true, string(threat.StatusBlocked), ms).Scan(&c.Total, &c.Phishing, &c.Blocked)
	if err != nil {
		return c, fmt.Errorf("count threat records: %w", err)
	}

	rows, err := s.query(ctx, `SELECT severity, COUNT(*) FROM threat_records
		WHERE scanned_at >= ? GROUP BY severity`, ms)
	if err != nil {
		return c, fmt.Errorf("count by severity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return c, fmt.Errorf("scan severity count: %w", err)
		}
		c.BySeverity[scoring.Severity(sev)] = n
	}
	return c, rows.Err()
}

func (s *Store) PhishingDomainCounts(ctx context.Context, since time.Time) ([]threat.DomainSeverityCount, error) {
	rows, err := s.query(ctx, `SELECT domain, severity, COUNT(*) FROM threat_records
		WHERE is_phishing = ? AND scanned_at >= ? GROUP BY domain, severity`, true, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("count phishing domains: %w", err)
	}
	defer rows.Close()
	var out []threat.DomainSeverityCount
	for rows.Next() {
		var (
			dc  threat.DomainSeverityCount
			sev string
		)
		if err := rows.Scan(&dc.Domain, &sev, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan domain count: %w", err)
		}
		dc.Severity = scoring.Severity(sev)
		out = append(out, dc)
	}
	return out, rows.Err()
}

func scanRecord(sc rowScanner) (*threat.Record, error) {
	var (
		r                        threat.Record
		ml, semantic             sql.NullFloat64
		severity, status, verdct string
		matched, feats           string
		scanned, updated         int64
	)
	err := sc.Scan(&r.ID, &r.URL, &r.Domain, &r.IsPhishing, &r.Confidence, &ml, &r.RuleScore,
		&semantic, &severity, &status, &verdct, &r.Reason, &r.Degraded, &r.IntelMatch,
		&matched, &feats, &r.SourceIP, &r.UserAgent, &scanned, &updated, &r.Version)
	if err != nil {
		return nil, err
	}
	r.MLScore = floatPtr(ml)
	r.SemanticScore = floatPtr(semantic)
	r.Severity = scoring.Severity(severity)
	r.Status = threat.Status(status)
	r.Verdict = scoring.Verdict(verdct)
	r.ScannedAt = fromMillis(scanned)
	r.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(matched), &r.MatchedRules); err != nil {
		return nil, fmt.Errorf("decode matched rules: %w", err)
	}
	if err := json.Unmarshal([]byte(feats), &r.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return &r, nil
}
