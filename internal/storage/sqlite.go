package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"aocbot/internal/fault"
	logx "aocbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const itemsTable = "items"

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	batch int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; conditional writes are serialized by it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, batch: batchSizeOrDefault(cfg.BatchSize)}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Int("batch", st.batch))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) MaxBatch() int { return s.batch }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key Key) (Item, bool, error) {
	q, args, err := sq.Select("attrs").From(itemsTable).
		Where(sq.Eq{"pk": key.Partition, "sk": key.Sort}).ToSql()
	if err != nil {
		return Item{}, false, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fault.Infra("storage.get", err)
	}
	attrs, err := decodeAttrs(raw)
	if err != nil {
		return Item{}, false, fault.Infra("storage.get", err)
	}
	return Item{Key: key, Attrs: attrs}, true, nil
}

func (s *sqliteStore) BatchGet(ctx context.Context, keys []Key) (map[Key]Item, error) {
	if len(keys) > s.batch {
		return nil, ErrBatchTooLarge
	}
	out := make(map[Key]Item, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	or := make(sq.Or, 0, len(keys))
	for _, k := range keys {
		or = append(or, sq.Eq{"pk": k.Partition, "sk": k.Sort})
	}
	q, args, err := sq.Select("pk", "sk", "attrs").From(itemsTable).Where(or).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fault.Infra("storage.batch_get", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fault.Infra("storage.batch_get", err)
		}
		out[it.Key] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Infra("storage.batch_get", err)
	}
	return out, nil
}

func (s *sqliteStore) Put(ctx context.Context, item Item) error {
	if !item.Key.valid() {
		return ErrInvalidKey
	}
	raw, err := encodeAttrs(item.Attrs)
	if err != nil {
		return err
	}
	q, args, err := sq.Insert(itemsTable).Columns("pk", "sk", "attrs").
		Values(item.Key.Partition, item.Key.Sort, raw).
		Suffix("ON CONFLICT(pk, sk) DO UPDATE SET attrs = excluded.attrs").ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fault.Infra("storage.put", err)
	}
	return nil
}

// AttemptClaim maps both conditions onto a single statement so SQLite evaluates
// the guard and the write atomically. Zero affected rows means the guard failed.
func (s *sqliteStore) AttemptClaim(ctx context.Context, item Item, cond Condition) (ClaimResult, error) {
	if !item.Key.valid() {
		return 0, ErrInvalidKey
	}
	raw, err := encodeAttrs(item.Attrs)
	if err != nil {
		return 0, err
	}
	if cond.kind == condAttrEquals {
		return s.replaceIf(ctx, item, raw, cond)
	}
	ins := sq.Insert(itemsTable).Columns("pk", "sk", "attrs").
		Values(item.Key.Partition, item.Key.Sort, raw)

	switch cond.kind {
	case condAbsent:
		ins = ins.Suffix("ON CONFLICT(pk, sk) DO NOTHING")
	case condAttrAbsentOrNot:
		path := "$." + cond.attr
		ins = ins.Suffix(
			"ON CONFLICT(pk, sk) DO UPDATE SET attrs = excluded.attrs "+
				"WHERE json_extract(items.attrs, ?) IS NULL "+
				"OR json_extract(items.attrs, ?) = '' "+
				"OR json_extract(items.attrs, ?) <> ?",
			path, path, path, cond.value,
		)
	default:
		return 0, fmt.Errorf("storage: unsupported condition")
	}

	q, args, err := ins.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fault.Infra("storage.claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Infra("storage.claim", err)
	}
	if n == 0 {
		return Conflict, nil
	}
	return Claimed, nil
}

// replaceIf overwrites an existing row whose attr matches; a missing row or a
// mismatch affects nothing.
func (s *sqliteStore) replaceIf(ctx context.Context, item Item, raw string, cond Condition) (ClaimResult, error) {
	q, args, err := sq.Update(itemsTable).Set("attrs", raw).
		Where(sq.Eq{"pk": item.Key.Partition, "sk": item.Key.Sort}).
		Where("COALESCE(json_extract(attrs, ?), '') = ?", "$."+cond.attr, cond.value).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fault.Infra("storage.claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Infra("storage.claim", err)
	}
	if n == 0 {
		return Conflict, nil
	}
	return Claimed, nil
}

func (s *sqliteStore) Query(ctx context.Context, in QueryInput) (Page, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	sel := sq.Select("pk", "sk", "attrs").From(itemsTable).
		Where(sq.Eq{"pk": in.Partition}).
		OrderBy("sk ASC").
		Limit(uint64(limit + 1))
	if in.SortPrefix != "" {
		// Byte-wise range; 0xff never occurs in UTF-8 text.
		sel = sel.Where(sq.GtOrEq{"sk": in.SortPrefix}).Where(sq.Lt{"sk": in.SortPrefix + "\xff"})
	}
	if in.After != "" {
		sel = sel.Where(sq.Gt{"sk": in.After})
	}
	q, args, err := sel.ToSql()
	if err != nil {
		return Page{}, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Page{}, fault.Infra("storage.query", err)
	}
	defer rows.Close()

	var p Page
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return Page{}, fault.Infra("storage.query", err)
		}
		p.Items = append(p.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fault.Infra("storage.query", err)
	}
	if len(p.Items) > limit {
		p.Items = p.Items[:limit]
		p.Next = p.Items[limit-1].Key.Sort
	}
	return p, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key Key) error {
	q, args, err := sq.Delete(itemsTable).Where(sq.Eq{"pk": key.Partition, "sk": key.Sort}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fault.Infra("storage.delete", err)
	}
	return nil
}

func scanItem(rows *sql.Rows) (Item, error) {
	var it Item
	var raw string
	if err := rows.Scan(&it.Key.Partition, &it.Key.Sort, &raw); err != nil {
		return Item{}, err
	}
	attrs, err := decodeAttrs(raw)
	if err != nil {
		return Item{}, err
	}
	it.Attrs = attrs
	return it, nil
}

func encodeAttrs(attrs map[string]string) (string, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAttrs(raw string) (map[string]string, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, fmt.Errorf("decode attrs: %w", err)
	}
	return attrs, nil
}
