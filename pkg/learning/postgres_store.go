package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS phrases (
	phrase  TEXT PRIMARY KEY,
	record  JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	version  BIGINT PRIMARY KEY,
	body     JSONB NOT NULL
);
`

// PostgresStore persists phrases and snapshots in Postgres. Records are kept
// as JSONB documents rather than exploded columns: the phrase record is the
// unit of integrity (snapshot checksums hash its canonical encoding), so the
// database stores it verbatim.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects using the given DSN and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SavePhrase implements PhraseStore.
func (ps *PostgresStore) SavePhrase(ctx context.Context, p *Phrase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = ps.pool.Exec(ctx,
		`INSERT INTO phrases (phrase, record) VALUES ($1, $2)
		 ON CONFLICT (phrase) DO UPDATE SET record = EXCLUDED.record`,
		p.Text, data)
	return err
}

// LoadPhrases implements PhraseStore.
func (ps *PostgresStore) LoadPhrases(ctx context.Context) ([]*Phrase, error) {
	rows, err := ps.pool.Query(ctx, `SELECT record FROM phrases`)
	if err != nil {
		return nil, fmt.Errorf("loading phrase table: %w", err)
	}
	defer rows.Close()

	var out []*Phrase
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p Phrase
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("corrupt phrase record: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AppendSnapshot implements PhraseStore.
func (ps *PostgresStore) AppendSnapshot(ctx context.Context, sn *Snapshot) error {
	data, err := json.Marshal(sn)
	if err != nil {
		return err
	}
	_, err = ps.pool.Exec(ctx,
		`INSERT INTO snapshots (version, body) VALUES ($1, $2)`,
		sn.Version, data)
	return err
}

// LoadSnapshots implements PhraseStore.
func (ps *PostgresStore) LoadSnapshots(ctx context.Context) ([]*Snapshot, error) {
	rows, err := ps.pool.Query(ctx, `SELECT body FROM snapshots ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot log: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sn Snapshot
		if err := json.Unmarshal(data, &sn); err != nil {
			return nil, fmt.Errorf("corrupt snapshot row: %w", err)
		}
		out = append(out, &sn)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}
