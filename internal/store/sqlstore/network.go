package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/network"
)

const connectionColumns = `id, source_ip, destination_ip, destination_domain, destination_port,
	protocol, bytes_sent, bytes_received, is_blocked, block_reason, threat_score, observed_at`

func (s *Store) InsertConnection(ctx context.Context, c *network.Connection) error {
	_, err := s.exec(ctx, `INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceIP, c.DestinationIP, c.DestinationDomain, c.DestinationPort,
		c.Protocol, c.BytesSent, c.BytesReceived, c.IsBlocked, c.BlockReason, c.ThreatScore,
		toMillis(c.Timestamp))
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context, limit int) ([]*network.Connection, error) {
	rows, err := s.query(ctx, `SELECT `+connectionColumns+` FROM connections
		ORDER BY observed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	out := []*network.Connection{}
	for rows.Next() {
		var c network.Connection
		var ms int64
		if err := rows.Scan(&c.ID, &c.SourceIP, &c.DestinationIP, &c.DestinationDomain, &c.DestinationPort,
			&c.Protocol, &c.BytesSent, &c.BytesReceived, &c.IsBlocked, &c.BlockReason, &c.ThreatScore, &ms); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		c.Timestamp = fromMillis(ms)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) ConnectionStats(ctx context.Context, since time.Time, top int) (network.Stats, error) {
	st := network.Stats{ProtocolDistribution: map[string]int{}, TopDestinations: []network.DestinationCount{}}
	ms := toMillis(since)

	err := s.queryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_blocked = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(bytes_sent), 0),
		COALESCE(SUM(bytes_received), 0)
		FROM connections WHERE observed_at >= ?`, true, ms).
		Scan(&st.TotalConnections, &st.BlockedConnections, &st.BytesSent, &st.BytesReceived)
	if err != nil {
		return st, fmt.Errorf("connection totals: %w", err)
	}

	rows, err := s.query(ctx, `SELECT protocol, COUNT(*) FROM connections
		WHERE observed_at >= ? AND protocol <> '' GROUP BY protocol`, ms)
	if err != nil {
		return st, fmt.Errorf("protocol distribution: %w", err)
	}
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			rows.Close()
			return st, fmt.Errorf("scan protocol count: %w", err)
		}
		st.ProtocolDistribution[p] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("protocol distribution: %w", err)
	}

	rows, err = s.query(ctx, `SELECT dest, COUNT(*) AS n FROM (
			SELECT CASE WHEN destination_domain <> '' THEN destination_domain ELSE destination_ip END AS dest
			FROM connections WHERE observed_at >= ?
		) d WHERE dest <> '' GROUP BY dest ORDER BY n DESC, dest LIMIT ?`, ms, top)
	if err != nil {
		return st, fmt.Errorf("top destinations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc network.DestinationCount
		if err := rows.Scan(&dc.Destination, &dc.Count); err != nil {
			return st, fmt.Errorf("scan destination count: %w", err)
		}
		st.TopDestinations = append(st.TopDestinations, dc)
	}
	return st, rows.Err()
}

func (s *Store) PutBlockedIP(ctx context.Context, b network.BlockedIP) error {
	_, err := s.exec(ctx, `INSERT INTO blocked_ips (ip, reason, blocked_at) VALUES (?, ?, ?)
		ON CONFLICT (ip) DO UPDATE SET reason = excluded.reason, blocked_at = excluded.blocked_at`,
		b.IP, b.Reason, toMillis(b.BlockedAt))
	if err != nil {
		return fmt.Errorf("put blocked ip: %w", err)
	}
	return nil
}

func (s *Store) DeleteBlockedIP(ctx context.Context, ip string) error {
	res, err := s.exec(ctx, `DELETE FROM blocked_ips WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("delete blocked ip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, "network.Unblock", "%s is not blocked", ip)
	}
	return nil
}

func (s *Store) BlockedIPs(ctx context.Context) ([]network.BlockedIP, error) {
	rows, err := s.query(ctx, `SELECT ip, reason, blocked_at FROM blocked_ips ORDER BY ip`)
	if err != nil {
		return nil, fmt.Errorf("list blocked ips: %w", err)
	}
	defer rows.Close()
	var out []network.BlockedIP
	for rows.Next() {
		var b network.BlockedIP
		var ms int64
		if err := rows.Scan(&b.IP, &b.Reason, &ms); err != nil {
			return nil, fmt.Errorf("scan blocked ip: %w", err)
		}
		b.BlockedAt = fromMillis(ms)
		out = append(out, b)
	}
	return out, rows.Err()
}
