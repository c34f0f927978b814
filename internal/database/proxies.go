package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go-config-runner/internal/database/models"
	"go-config-runner/internal/proxypool"
)

var ErrNotFound = errors.New("database: record not found")

type ProxyRepository struct {
	db *sql.DB
}

func NewProxyRepository(db *sql.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// Import adds proxies to a group and returns how many were new. Proxies
// already in the group are left untouched.
func (r *ProxyRepository) Import(ctx context.Context, group string, proxies []proxypool.Proxy) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO proxies (group_name, address, type, username, password, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	added := 0
	for _, p := range proxies {
		result, err := stmt.ExecContext(ctx, group, p.Address(), string(p.Type), p.Username, p.Password, string(proxypool.Untested), now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert proxy %s: %w", p.Address(), err)
		}
		n, _ := result.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit proxies: %w", err)
	}
	return added, nil
}

// List returns the stored proxies of a group, or of every group when group
// is empty.
func (r *ProxyRepository) List(ctx context.Context, group string) ([]models.Proxy, error) {
	query := `
		SELECT id, group_name, address, type, username, password, status, latency_ms, country, last_checked_at, created_at
		FROM proxies`
	var args []any
	if group != "" {
		query += " WHERE group_name = ?"
		args = append(args, group)
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	proxies := []models.Proxy{}
	for rows.Next() {
		var p models.Proxy
		var checked sql.NullTime
		if err := rows.Scan(&p.ID, &p.GroupName, &p.Address, &p.Type, &p.Username, &p.Password,
			&p.Status, &p.LatencyMs, &p.Country, &checked, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		p.LastCheckedAt = checked.Time
		proxies = append(proxies, p)
	}
	return proxies, rows.Err()
}

// ListGroup returns a group as pool proxies. Stored check results are
// carried over so a pool can skip proxies known to be dead.
func (r *ProxyRepository) ListGroup(ctx context.Context, group string) ([]proxypool.Proxy, error) {
	rows, err := r.List(ctx, group)
	if err != nil {
		return nil, err
	}

	proxies := make([]proxypool.Proxy, 0, len(rows))
	for _, row := range rows {
		host, portStr, err := net.SplitHostPort(row.Address)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		p := proxypool.Proxy{
			Host:     host,
			Port:     port,
			Type:     proxypool.Type(row.Type),
			Username: row.Username,
			Password: row.Password,
			Status:   proxypool.Status(row.Status),
			Latency:  time.Duration(row.LatencyMs) * time.Millisecond,
			Country:  row.Country,
		}
		p.ID = p.Address()
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (r *ProxyRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM proxies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy from database: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: proxy %d", ErrNotFound, id)
	}
	return nil
}

func (r *ProxyRepository) DeleteGroup(ctx context.Context, group string) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM proxies WHERE group_name = ?", group)
	if err != nil {
		return 0, fmt.Errorf("failed to delete proxy group: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// RecordCheck stores a check result on every stored row of the same
// endpoint, whatever its group.
func (r *ProxyRepository) RecordCheck(ctx context.Context, p proxypool.Proxy) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE proxies
		SET status = ?, latency_ms = ?, country = ?, last_checked_at = ?
		WHERE address = ? AND type = ?
	`, string(p.Status), p.Latency.Milliseconds(), p.Country, time.Now().UTC(), p.Address(), string(p.Type))
	if err != nil {
		return fmt.Errorf("failed to record proxy check: %w", err)
	}
	return nil
}
