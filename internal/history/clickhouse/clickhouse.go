package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/state"
)

// DefaultTable receives events when the DSN names none.
const DefaultTable = "yeet_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds connection settings for the native protocol.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr with the default user and database.
func New(addr, table string) (*Sink, error) {
	return Open(Config{Addr: addr, Table: table})
}

// Open connects, pings and creates the events table if missing.
func Open(cfg Config) (*Sink, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", cfg.Table)
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: cfg.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		event String,
		occurred_at DateTime64(3, 'UTC'),
		pid Int64,
		port Int32,
		url String,
		resource_path String,
		created_at Int64,
		detail String
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, pid)`)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (event, occurred_at, pid, port, url, resource_path, created_at, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		int64(e.Record.PID),
		int32(e.Record.Port),
		e.Record.URL,
		e.Record.ResourcePath,
		e.Record.CreatedAt,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT event, occurred_at, pid, port, url, resource_path, created_at, detail FROM %s ORDER BY occurred_at DESC LIMIT %d`, s.table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			typ  string
			at   time.Time
			pid  int64
			port int32
			rec  state.Record
			e    history.Event
		)
		if err := rows.Scan(&typ, &at, &pid, &port, &rec.URL, &rec.ResourcePath, &rec.CreatedAt, &e.Detail); err != nil {
			return nil, err
		}
		rec.PID = int(pid)
		rec.Port = int(port)
		e.Type = history.EventType(typ)
		e.OccurredAt = at.UTC()
		e.Record = rec
		out = append(out, e)
	}
	return out, rows.Err()
}
