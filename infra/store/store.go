// Package store persists arrival/departure events and filter error
// snapshots in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/arrivalcast/core/errorstate"
	"github.com/kilianp07/arrivalcast/core/model"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS arrival_departures (
        identity TEXT PRIMARY KEY,
        ts BIGINT NOT NULL,
        vehicle_id TEXT NOT NULL,
        record TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS arrival_departures_ts ON arrival_departures (ts)`,
	`CREATE TABLE IF NOT EXISTS filter_errors (
        namespace INTEGER NOT NULL,
        segment_group TEXT NOT NULL,
        stop_path_index INTEGER NOT NULL,
        value DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (namespace, segment_group, stop_path_index)
    )`,
}

// EventStore is the durable source the cache is populated from.
type EventStore struct {
	db     *sql.DB
	driver string
}

// Open connects using driver ("sqlite" or "pgx") and ensures the schema.
func Open(driver, dsn string) (*EventStore, error) {
	switch driver {
	case DriverSQLite, DriverPgx:
	default:
		return nil, fmt.Errorf("store: unknown driver %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, err
		}
	}
	return &EventStore{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *EventStore) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append stores events in one transaction. Known events are ignored.
func (s *EventStore) Append(ctx context.Context, evs ...model.ArrivalDeparture) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO arrival_departures (identity, ts, vehicle_id, record)
        VALUES (?, ?, ?, ?) ON CONFLICT (identity) DO NOTHING`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.Identity(), ev.Time.UnixMilli(), ev.VehicleID, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append %s: %w", ev.Identity(), err)
		}
	}
	return tx.Commit()
}

// LoadRange returns the events in [start,end) ordered by time.
func (s *EventStore) LoadRange(ctx context.Context, start, end time.Time) ([]model.ArrivalDeparture, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT record FROM arrival_departures
        WHERE ts >= ? AND ts < ? ORDER BY ts`), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.ArrivalDeparture
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev model.ArrivalDeparture
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Prune deletes events older than before and returns the number removed.
func (s *EventStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM arrival_departures WHERE ts < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveErrors upserts a filter error snapshot.
func (s *EventStore) SaveErrors(ctx context.Context, entries []errorstate.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO filter_errors (namespace, segment_group, stop_path_index, value)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (namespace, segment_group, stop_path_index) DO UPDATE SET value = excluded.value`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, int(e.Namespace), e.Segment.Group, e.Segment.StopPathIndex, e.Value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadErrors returns the last saved snapshot.
func (s *EventStore) LoadErrors(ctx context.Context) ([]errorstate.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, segment_group, stop_path_index, value FROM filter_errors
        ORDER BY namespace, segment_group, stop_path_index`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []errorstate.Entry
	for rows.Next() {
		var ns int
		var e errorstate.Entry
		if err := rows.Scan(&ns, &e.Segment.Group, &e.Segment.StopPathIndex, &e.Value); err != nil {
			return nil, err
		}
		e.Namespace = model.Namespace(ns)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Ping checks the connection.
func (s *EventStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database.
func (s *EventStore) Close() error { return s.db.Close() }
