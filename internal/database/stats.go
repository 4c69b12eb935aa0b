package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nao1215/darc/internal/model"
)

// HostCount is the number of visits of one host.
type HostCount struct {
	Host   string
	Visits int
}

// Stats summarizes the store.
type Stats struct {
	// Visits is the number of visit rows.
	Visits int

	// URLs is the number of distinct URLs visited.
	URLs int

	// Hosts is the number of distinct hosts visited.
	Hosts int

	// Links is the number of stored outbound links.
	Links int

	// ByKind counts visits per outcome kind.
	ByKind map[model.OutcomeKind]int

	// TopHosts lists the most visited hosts, most visited first.
	TopHosts []HostCount

	// First and Last bound the visit timestamps. Both are zero for an empty store.
	First time.Time
	Last  time.Time
}

// Stats computes the summary. topHosts bounds the length of Stats.TopHosts.
func (s *Store) Stats(ctx context.Context, topHosts int) (*Stats, error) {
	st := &Stats{ByKind: make(map[model.OutcomeKind]int)}

	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COUNT(DISTINCT url), COUNT(DISTINCT host), MIN(timestamp), MAX(timestamp)
	FROM visits`).Scan(&st.Visits, &st.URLs, &st.Hosts, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to count visits: %w", err)
	}
	if first.Valid {
		st.First = parseTimestamp(first.String)
	}
	if last.Valid {
		st.Last = parseTimestamp(last.String)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&st.Links); err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM visits GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan kind: %w", err)
		}
		st.ByKind[model.OutcomeKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if topHosts <= 0 {
		return st, nil
	}
	hostRows, err := s.db.QueryContext(ctx, `
	SELECT host, COUNT(*) AS n FROM visits
	GROUP BY host
	ORDER BY n DESC, host
	LIMIT ?`, topHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to count hosts: %w", err)
	}
	defer hostRows.Close()
	for hostRows.Next() {
		var hc HostCount
		if err := hostRows.Scan(&hc.Host, &hc.Visits); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		st.TopHosts = append(st.TopHosts, hc)
	}
	return st, hostRows.Err()
}
