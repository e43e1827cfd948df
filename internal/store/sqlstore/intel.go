package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/intel"
)

const upsertIntel = `INSERT INTO intel_entries (domain, list, source, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (domain) DO UPDATE SET list = excluded.list, source = excluded.source, created_at = excluded.created_at`

func (s *Store) IntelEntries(ctx context.Context) ([]intel.Entry, error) {
	rows, err := s.query(ctx, `SELECT domain, list, source, created_at FROM intel_entries ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list intel entries: %w", err)
	}
	defer rows.Close()
	var out []intel.Entry
	for rows.Next() {
		var e intel.Entry
		var list string
		var ms int64
		if err := rows.Scan(&e.Domain, &list, &e.Source, &ms); err != nil {
			return nil, fmt.Errorf("scan intel entry: %w", err)
		}
		e.List = intel.List(list)
		e.CreatedAt = fromMillis(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutIntelEntry(ctx context.Context, e intel.Entry) error {
	if _, err := s.exec(ctx, upsertIntel, e.Domain, string(e.List), e.Source, toMillis(e.CreatedAt)); err != nil {
		return fmt.Errorf("put intel entry: %w", err)
	}
	return nil
}

func (s *Store) PutIntelEntries(ctx context.Context, es []intel.Entry) error {
	if len(es) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(upsertIntel))
		if err != nil {
			return fmt.Errorf("prepare intel upsert: %w", err)
		}
		defer stmt.Close()
		for _, e := range es {
			if _, err := stmt.ExecContext(ctx, e.Domain, string(e.List), e.Source, toMillis(e.CreatedAt)); err != nil {
				return fmt.Errorf("put intel entry %s: %w", e.Domain, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteIntelEntry(ctx context.Context, list intel.List, domain string) error {
	res, err := s.exec(ctx, `DELETE FROM intel_entries WHERE list = ? AND domain = ?`, string(list), domain)
	if err != nil {
		return fmt.Errorf("delete intel entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "intel.Delete", "%s is not on the %s", domain, list)
	}
	return nil
}
