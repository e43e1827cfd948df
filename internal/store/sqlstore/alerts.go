package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/scoring"
)

const alertColumns = `id, title, description, severity, alert_type, source, entity_key,
	threat_id, connection_id, metadata, is_read, is_acknowledged, acknowledged_at,
	created_at, updated_at`

const insertAlert = `INSERT INTO alerts (` + alertColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func alertArgs(a *alerts.Alert) ([]any, error) {
	a.Normalize()
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode alert metadata: %w", err)
	}
	return []any{
		a.ID, a.Title, a.Description, string(a.Severity), string(a.Type), a.Source, a.EntityKey,
		nullString(a.ThreatID), nullString(a.ConnectionID), string(meta), a.IsRead, a.IsAcknowledged,
		nullMillis(a.AcknowledgedAt), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	}, nil
}

func (s *Store) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	args, err := alertArgs(a)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, insertAlert, args...); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) InsertUnlessDuplicate(ctx context.Context, a *alerts.Alert, since time.Time, lockKey int64) (*alerts.Alert, bool, error) {
	args, err := alertArgs(a)
	if err != nil {
		return nil, false, err
	}
	var existing *alerts.Alert
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if s.dialect.advisory {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
				return fmt.Errorf("acquire dedup lock: %w", err)
			}
		}
		row := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+alertColumns+` FROM alerts
			WHERE source = ? AND entity_key = ? AND is_acknowledged = ? AND created_at >= ?
			ORDER BY created_at DESC LIMIT 1`),
			a.Source, a.EntityKey, false, toMillis(since))
		found, err := scanAlert(row)
		switch {
		case err == nil:
			existing = found
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find duplicate alert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(insertAlert), args...); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return a, true, nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	a, err := scanAlert(s.queryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "alerts.Get", "alert %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, f alerts.Filter) ([]*alerts.Alert, int, error) {
	var w where
	if f.Severity != nil {
		w.add("severity = ?", string(*f.Severity))
	}
	if f.Type != nil {
		w.add("alert_type = ?", string(*f.Type))
	}
	if f.IsRead != nil {
		w.add("is_read = ?", *f.IsRead)
	}
	if f.IsAcknowledged != nil {
		w.add("is_acknowledged = ?", *f.IsAcknowledged)
	}
	if !f.Since.IsZero() {
		w.add("created_at >= ?", toMillis(f.Since))
	}
	if !f.Until.IsZero() {
		w.add("created_at < ?", toMillis(f.Until))
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM alerts`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	args := append(append([]any{}, w.args...), f.PageSize, offset(f.Page, f.PageSize))
	out, err := s.alertList(ctx, `SELECT `+alertColumns+` FROM alerts`+w.String()+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UnreadAlerts(ctx context.Context, limit int) ([]*alerts.Alert, error) {
	return s.alertList(ctx, `SELECT `+alertColumns+` FROM alerts WHERE is_read = ?
		ORDER BY created_at DESC, id LIMIT ?`, false, limit)
}

func (s *Store) alertList(ctx context.Context, q string, args ...any) ([]*alerts.Alert, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	out := []*alerts.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func (s *Store) SetAlertFlags(ctx context.Context, id string, read, ack bool, at time.Time) error {
	ms := toMillis(at)
	var res sql.Result
	var err error
	switch {
	case ack:
		res, err = s.exec(ctx, `UPDATE alerts
			SET is_read = ?, is_acknowledged = ?, acknowledged_at = COALESCE(acknowledged_at, ?), updated_at = ?
			WHERE id = ?`, true, true, ms, ms, id)
	case read:
		res, err = s.exec(ctx, `UPDATE alerts SET is_read = ?, updated_at = ? WHERE id = ?`, true, ms, id)
	default:
		res, err = s.exec(ctx, `UPDATE alerts SET updated_at = updated_at WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("update alert flags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "alerts.Update", "alert %s not found", id)
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.exec(ctx, `UPDATE alerts SET is_read = ?, updated_at = ? WHERE is_read = ?`,
		true, toMillis(at), false)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) AcknowledgeAll(ctx context.Context, severity *scoring.Severity, at time.Time) (int64, error) {
	ms := toMillis(at)
	q := `UPDATE alerts SET is_read = ?, is_acknowledged = ?, acknowledged_at = ?, updated_at = ?
		WHERE is_acknowledged = ?`
	args := []any{true, true, ms, ms, false}
	if severity != nil {
		q += ` AND severity = ?`
		args = append(args, string(*severity))
	}
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("acknowledge all: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "alerts.Delete", "alert %s not found", id)
	}
	return nil
}

func (s *Store) AlertCounts(ctx context.Context) (alerts.Counts, error) {
	c := alerts.Counts{BySeverity: map[string]int{}, ByType: map[string]int{}}
	err := s.queryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_read = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_acknowledged = ? THEN 1 ELSE 0 END), 0)
		FROM alerts`, false, false).Scan(&c.Total, &c.Unread, &c.Unacknowledged)
	if err != nil {
		return c, fmt.Errorf("count alerts: %w", err)
	}
	if err := s.groupCount(ctx, "severity", c.BySeverity); err != nil {
		return c, err
	}
	if err := s.groupCount(ctx, "alert_type", c.ByType); err != nil {
		return c, err
	}
	return c, nil
}

// groupCount counts unacknowledged alerts by col into dst.
func (s *Store) groupCount(ctx context.Context, col string, dst map[string]int) error {
	rows, err := s.query(ctx, `SELECT `+col+`, COUNT(*) FROM alerts
		WHERE is_acknowledged = ? GROUP BY `+col, false)
	if err != nil {
		return fmt.Errorf("count alerts by %s: %w", col, err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan alert count: %w", err)
		}
		dst[k] = n
	}
	return rows.Err()
}

func (s *Store) AlertStamps(ctx context.Context, since time.Time) ([]alerts.Stamp, error) {
	rows, err := s.query(ctx, `SELECT created_at, severity FROM alerts WHERE created_at >= ?
		ORDER BY created_at`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("alert stamps: %w", err)
	}
	defer rows.Close()
	var out []alerts.Stamp
	for rows.Next() {
		var ms int64
		var sev string
		if err := rows.Scan(&ms, &sev); err != nil {
			return nil, fmt.Errorf("scan alert stamp: %w", err)
		}
		out = append(out, alerts.Stamp{CreatedAt: fromMillis(ms), Severity: scoring.Severity(sev)})
	}
	return out, rows.Err()
}

func scanAlert(sc rowScanner) (*alerts.Alert, error) {
	var (
		a                   alerts.Alert
		severity, typ, meta string
		threatID, connID    sql.NullString
		ackAt               sql.NullInt64
		created, updated    int64
	)
	err := sc.Scan(&a.ID, &a.Title, &a.Description, &severity, &typ, &a.Source, &a.EntityKey,
		&threatID, &connID, &meta, &a.IsRead, &a.IsAcknowledged, &ackAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.Severity = scoring.Severity(severity)
	a.Type = alerts.Type(typ)
	a.ThreatID = stringPtr(threatID)
	a.ConnectionID = stringPtr(connID)
	a.AcknowledgedAt = timePtr(ackAt)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode alert metadata: %w", err)
	}
	return &a, nil
}
