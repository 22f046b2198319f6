package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/timkendrick/shunt/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_records (
	user_name  TEXT NOT NULL,
	app_name   TEXT NOT NULL,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_name, app_name)
)`

// Postgres stores records as JSONB rows in the sync_records table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and verifies it.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresFromDB(db), nil
}

// NewPostgresFromDB wraps an existing database handle.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the sync_records table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sync_records: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key models.AppKey) (rec *models.SyncRecord, err error) {
	start := time.Now()
	defer func() { observe("postgres", "get", start, err) }()

	var raw []byte
	err = p.db.QueryRowContext(ctx,
		`SELECT record FROM sync_records WHERE user_name = $1 AND app_name = $2`,
		key.User, key.App,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	rec = &models.SyncRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

func (p *Postgres) Put(ctx context.Context, key models.AppKey, rec *models.SyncRecord) (err error) {
	start := time.Now()
	defer func() { observe("postgres", "put", start, err) }()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sync_records (user_name, app_name, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_name, app_name)
		DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		key.User, key.App, raw, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key models.AppKey) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM sync_records WHERE user_name = $1 AND app_name = $2`,
		key.User, key.App,
	)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]models.AppKey, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_name, app_name FROM sync_records ORDER BY user_name, app_name`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var keys []models.AppKey
	for rows.Next() {
		var k models.AppKey
		if err := rows.Scan(&k.User, &k.App); err != nil {
			return nil, fmt.Errorf("scan record key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}
