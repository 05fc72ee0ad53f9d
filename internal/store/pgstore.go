package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	docChannel      = "volley_match_doc"
	interactChannel = "volley_match_interactions"
)

// PGStore keeps each partition as one JSONB row per match code. Field
// patches merge at the top level, interaction writes run as single atomic
// UPDATE expressions, and change notification rides LISTEN/NOTIFY with a
// full-row refetch on wakeup.
type PGStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS match_documents (
	code       text PRIMARY KEY,
	version    bigint NOT NULL DEFAULT 0,
	doc        jsonb NOT NULL DEFAULT '{}'::jsonb,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS match_interactions (
	code       text PRIMARY KEY,
	version    bigint NOT NULL DEFAULT 0,
	doc        jsonb NOT NULL DEFAULT '{}'::jsonb,
	updated_at timestamptz NOT NULL DEFAULT now()
);`

func NewPGStore(ctx context.Context, dsn string, log *zap.Logger) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PGStore{pool: pool, log: log}, nil
}

func (p *PGStore) Replace(ctx context.Context, code string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return p.write(ctx, "match_documents", docChannel, code, `
		INSERT INTO match_documents (code, version, doc, updated_at)
		VALUES ($1, 1, $2::jsonb, now())
		ON CONFLICT (code) DO UPDATE SET
			doc = EXCLUDED.doc,
			version = match_documents.version + 1,
			updated_at = now()`, raw)
}

func (p *PGStore) Patch(ctx context.Context, code string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	return p.write(ctx, "match_documents", docChannel, code, `
		INSERT INTO match_documents (code, version, doc, updated_at)
		VALUES ($1, 1, $2::jsonb, now())
		ON CONFLICT (code) DO UPDATE SET
			doc = match_documents.doc || EXCLUDED.doc,
			version = match_documents.version + 1,
			updated_at = now()`, raw)
}

func (p *PGStore) Get(ctx context.Context, code string) (Document, error) {
	return p.get(ctx, "match_documents", code)
}

func (p *PGStore) Delete(ctx context.Context, code string) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM match_documents WHERE code = $1`, code)
	batch.Queue(`DELETE FROM match_interactions WHERE code = $1`, code)
	batch.Queue(`SELECT pg_notify($1, $2)`, docChannel, code)
	batch.Queue(`SELECT pg_notify($1, $2)`, interactChannel, code)
	return p.pool.SendBatch(ctx, batch).Close()
}

func (p *PGStore) Watch(ctx context.Context, code string) (<-chan Document, func(), error) {
	return p.watch(ctx, "match_documents", docChannel, code)
}

func (p *PGStore) SetMapEntry(ctx context.Context, code, field, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal map entry: %w", err)
	}
	return p.write(ctx, "match_interactions", interactChannel, code, `
		INSERT INTO match_interactions (code, version, doc, updated_at)
		VALUES ($1, 1, jsonb_build_object($3::text, jsonb_build_object($4::text, $2::jsonb)), now())
		ON CONFLICT (code) DO UPDATE SET
			doc = jsonb_set(match_interactions.doc, ARRAY[$3::text],
				COALESCE(match_interactions.doc -> $3::text, '{}'::jsonb) || jsonb_build_object($4::text, $2::jsonb)),
			version = match_interactions.version + 1,
			updated_at = now()`, raw, field, key)
}

func (p *PGStore) DeleteMapEntry(ctx context.Context, code, field, key string) error {
	return p.write(ctx, "match_interactions", interactChannel, code, `
		INSERT INTO match_interactions (code, version, doc, updated_at)
		VALUES ($1, 1, '{}'::jsonb, now())
		ON CONFLICT (code) DO UPDATE SET
			doc = jsonb_set(match_interactions.doc, ARRAY[$2::text],
				COALESCE(match_interactions.doc -> $2::text, '{}'::jsonb) - $3::text),
			version = match_interactions.version + 1,
			updated_at = now()`, field, key)
}

func (p *PGStore) AppendList(ctx context.Context, code, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal list element: %w", err)
	}
	return p.write(ctx, "match_interactions", interactChannel, code, `
		INSERT INTO match_interactions (code, version, doc, updated_at)
		VALUES ($1, 1, jsonb_build_object($3::text, jsonb_build_array($2::jsonb)), now())
		ON CONFLICT (code) DO UPDATE SET
			doc = jsonb_set(match_interactions.doc, ARRAY[$3::text],
				COALESCE(match_interactions.doc -> $3::text, '[]'::jsonb) || jsonb_build_array($2::jsonb)),
			version = match_interactions.version + 1,
			updated_at = now()`, raw, field)
}

func (p *PGStore) IncrCounter(ctx context.Context, code, field string, delta int64) error {
	return p.write(ctx, "match_interactions", interactChannel, code, `
		INSERT INTO match_interactions (code, version, doc, updated_at)
		VALUES ($1, 1, jsonb_build_object($2::text, to_jsonb($3::bigint)), now())
		ON CONFLICT (code) DO UPDATE SET
			doc = jsonb_set(match_interactions.doc, ARRAY[$2::text],
				to_jsonb(COALESCE((match_interactions.doc ->> $2::text)::bigint, 0) + $3::bigint)),
			version = match_interactions.version + 1,
			updated_at = now()`, field, delta)
}

func (p *PGStore) SetInteractionField(ctx context.Context, code, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal field: %w", err)
	}
	return p.write(ctx, "match_interactions", interactChannel, code, `
		INSERT INTO match_interactions (code, version, doc, updated_at)
		VALUES ($1, 1, jsonb_build_object($3::text, $2::jsonb), now())
		ON CONFLICT (code) DO UPDATE SET
			doc = jsonb_set(match_interactions.doc, ARRAY[$3::text], $2::jsonb),
			version = match_interactions.version + 1,
			updated_at = now()`, raw, field)
}

func (p *PGStore) Interactions(ctx context.Context, code string) (Document, error) {
	return p.get(ctx, "match_interactions", code)
}

func (p *PGStore) WatchInteractions(ctx context.Context, code string) (<-chan Document, func(), error) {
	return p.watch(ctx, "match_interactions", interactChannel, code)
}

func (p *PGStore) Close() { p.pool.Close() }

func (p *PGStore) write(ctx context.Context, table, channel, code, sql string, args ...any) error {
	all := append([]any{code}, args...)
	if _, err := p.pool.Exec(ctx, sql, all...); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, code); err != nil {
		// The row is committed; a missed notification only delays
		// watchers until their next refetch.
		p.log.Warn("notify failed", zap.String("code", code), zap.Error(err))
	}
	return nil
}

func (p *PGStore) get(ctx context.Context, table, code string) (Document, error) {
	var (
		raw     []byte
		version int64
		updated time.Time
	)
	row := p.pool.QueryRow(ctx, `SELECT doc, version, updated_at FROM `+table+` WHERE code = $1`, code)
	if err := row.Scan(&raw, &version, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get %s: %w", table, err)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", table, err)
	}
	return Document{Code: code, Version: version, Fields: fields, UpdatedAt: updated}, nil
}

// watch holds a dedicated connection on LISTEN and refetches the full row on
// every notification for the code. The channel closes on any listen error;
// consumers resubscribe with a full refetch.
func (p *PGStore) watch(ctx context.Context, table, channel, code string) (<-chan Document, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, `LISTEN `+channel); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	out := make(chan Document, watchBuffer)

	go func() {
		defer close(out)
		defer conn.Release()
		for {
			note, err := conn.Conn().WaitForNotification(watchCtx)
			if err != nil {
				if watchCtx.Err() == nil {
					p.log.Warn("listen dropped", zap.String("code", code), zap.Error(err))
				}
				return
			}
			if note.Payload != code {
				continue
			}
			doc, err := p.get(watchCtx, table, code)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return
				}
				continue
			}
			select {
			case out <- doc:
			default:
				// Slow consumer: drop the subscription, the
				// consumer refetches when it resubscribes.
				return
			}
		}
	}()

	return out, cancel, nil
}
