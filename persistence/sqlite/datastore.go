package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
	"github.com/g-dg/garnetdg-app-server/persistence"
)

var _ persistence.Adapter = (*Adapter)(nil)

// Create idempotently provisions cfg's tree and values tables. The tree
// table enforces sibling-key uniqueness via a unique index over
// (IFNULL(parent_id, 0), key); the values table enforces change_id
// uniqueness.
func (a *Adapter) Create(ctx context.Context, cfg persistence.StoreConfig) error {
	prefix := quotedPrefix(cfg)

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]sdatastore_tree" (
	"id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	"parent_id" INTEGER REFERENCES %[1]sdatastore_tree" ("id"),
	"key" TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]sindex_datastore_tree__ifnull_parent_id__key" ON %[1]sdatastore_tree" (IFNULL("parent_id", 0), "key");
CREATE INDEX IF NOT EXISTS %[1]sindex_datastore_tree__parent_id__key" ON %[1]sdatastore_tree" ("parent_id", "key");

CREATE TABLE IF NOT EXISTS %[1]sdatastore_values" (
	"id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	"tree_node_id" INTEGER REFERENCES %[1]sdatastore_tree" ("id"),
	"change_id" TEXT NOT NULL UNIQUE,
	"timestamp" TEXT NOT NULL,
	"value" TEXT
);
CREATE INDEX IF NOT EXISTS %[1]sindex_datastore_values__tree_node_id" ON %[1]sdatastore_values" ("tree_node_id");
CREATE INDEX IF NOT EXISTS %[1]sindex_datastore_values__timestamp" ON %[1]sdatastore_values" ("timestamp");
`, prefix)

	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: create schema for store %q: %w", cfg.StoreName, err)
	}
	return nil
}

// GetCurrent returns the metadata of path's newest revision.
func (a *Adapter) GetCurrent(ctx context.Context, cfg persistence.StoreConfig, path pathtree.Path) (persistence.ValueMeta, error) {
	prefix := rawPrefix(cfg)

	nodeID, ok, err := a.findNodeID(ctx, a.db, prefix, path)
	if err != nil {
		return persistence.ValueMeta{}, err
	}
	if !ok {
		return persistence.ValueMeta{}, persistence.ErrNotFound
	}

	row := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT "change_id", "timestamp", "value" IS NULL FROM "%sdatastore_values" WHERE IFNULL("tree_node_id", 0) = ? ORDER BY "id" DESC LIMIT 1;`,
		prefix), nodeID)

	var changeIDStr, timestampStr string
	var deleted bool
	if err := row.Scan(&changeIDStr, &timestampStr, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ValueMeta{}, persistence.ErrNotFound
		}
		return persistence.ValueMeta{}, fmt.Errorf("sqlite: get current %v: %w", path, err)
	}

	return rowToMeta(changeIDStr, timestampStr, deleted)
}

// GetHistory returns path's revisions in chronological order. When
// afterChangeID names a revision this adapter cannot locate, it returns
// the full history unfiltered, so a caller reconciling after a disconnect
// never silently misses data.
func (a *Adapter) GetHistory(ctx context.Context, cfg persistence.StoreConfig, path pathtree.Path, afterChangeID ids.ID) ([]persistence.ValueMeta, error) {
	prefix := rawPrefix(cfg)

	nodeID, ok, err := a.findNodeID(ctx, a.db, prefix, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT "change_id", "timestamp", "value" IS NULL FROM "%sdatastore_values" WHERE IFNULL("tree_node_id", 0) = ?`, prefix)
	args := []any{nodeID}

	if !afterChangeID.IsNone() {
		var afterID int64
		err := a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT "id" FROM "%sdatastore_values" WHERE "change_id" = ?;`, prefix), afterChangeID.String()).Scan(&afterID)
		switch {
		case err == nil:
			query += ` AND "id" > ?`
			args = append(args, afterID)
		case errors.Is(err, sql.ErrNoRows):
			// cursor not found: fail open, return the full history.
		default:
			return nil, fmt.Errorf("sqlite: resolve cursor %s: %w", afterChangeID, err)
		}
	}

	query += ` ORDER BY "id" ASC;`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get history %v: %w", path, err)
	}
	defer rows.Close()

	var out []persistence.ValueMeta
	for rows.Next() {
		var changeIDStr, timestampStr string
		var deleted bool
		if err := rows.Scan(&changeIDStr, &timestampStr, &deleted); err != nil {
			return nil, fmt.Errorf("sqlite: scan history %v: %w", path, err)
		}
		meta, err := rowToMeta(changeIDStr, timestampStr, deleted)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// GetValue returns the serialized payload of changeID within cfg's store.
func (a *Adapter) GetValue(ctx context.Context, cfg persistence.StoreConfig, changeID ids.ID) (string, bool, error) {
	prefix := rawPrefix(cfg)

	row := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT "value" FROM "%sdatastore_values" WHERE "change_id" = ?;`, prefix), changeID.String())

	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, persistence.ErrNotFound
		}
		return "", false, fmt.Errorf("sqlite: get value %s: %w", changeID, err)
	}
	return value.String, !value.Valid, nil
}

// List returns the immediate child keys of path whose subtree contains at
// least one live (non-deleted) value.
func (a *Adapter) List(ctx context.Context, cfg persistence.StoreConfig, path pathtree.Path) ([]string, error) {
	prefix := rawPrefix(cfg)

	nodeID, ok, err := a.findNodeID(ctx, a.db, prefix, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var rows *sql.Rows
	if len(path) == 0 {
		rows, err = a.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT "id", "key" FROM "%sdatastore_tree" WHERE "parent_id" IS NULL;`, prefix))
	} else {
		rows, err = a.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT "id", "key" FROM "%sdatastore_tree" WHERE "parent_id" = ?;`, prefix), nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: list children of %v: %w", path, err)
	}
	defer rows.Close()

	type child struct {
		id  int64
		key string
	}
	var children []child
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.id, &c.key); err != nil {
			return nil, fmt.Errorf("sqlite: scan child of %v: %w", path, err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, c := range children {
		live, err := a.subtreeHasLiveValue(ctx, prefix, c.id)
		if err != nil {
			return nil, err
		}
		if live {
			out = append(out, c.key)
		}
	}
	return out, nil
}

// Set creates path if needed and appends a new revision.
func (a *Adapter) Set(ctx context.Context, cfg persistence.StoreConfig, path pathtree.Path, value *string) (ids.ID, error) {
	prefix := rawPrefix(cfg)

	nodeID, err := a.getOrCreateNodeID(ctx, a.db, prefix, path)
	if err != nil {
		return ids.None, err
	}

	changeID := ids.New()
	timestamp := time.Now().UTC()

	_, err = a.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO "%sdatastore_values" ("tree_node_id", "change_id", "timestamp", "value") VALUES (?, ?, ?, ?);`,
		prefix), nullableNodeID(nodeID), changeID.String(), timestamp.Format(time.RFC3339Nano), nullableString(value))
	if err != nil {
		return ids.None, fmt.Errorf("sqlite: set %v: %w", path, err)
	}

	return changeID, nil
}

// Cleanup enforces cfg's retention policy at path: with KeepHistory false,
// every row older than the current value is purged; otherwise rows beyond
// MaxAge or beyond the newest MaxEntries are purged, always preserving the
// current value.
func (a *Adapter) Cleanup(ctx context.Context, cfg persistence.StoreConfig, path pathtree.Path) error {
	prefix := rawPrefix(cfg)

	nodeID, ok, err := a.findNodeID(ctx, a.db, prefix, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	valuesTable := fmt.Sprintf(`"%sdatastore_values"`, prefix)
	currentIDExpr := fmt.Sprintf(`(SELECT MAX("id") FROM %s WHERE IFNULL("tree_node_id", 0) = ?)`, valuesTable)

	if !cfg.KeepHistory {
		_, err := a.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE IFNULL("tree_node_id", 0) = ? AND "id" <> %s;`, valuesTable, currentIDExpr),
			nodeID, nodeID)
		if err != nil {
			return fmt.Errorf("sqlite: cleanup (no history) %v: %w", path, err)
		}
		return nil
	}

	var conds []string
	args := []any{nodeID, nodeID}

	if cfg.MaxAge != nil {
		cutoff := time.Now().Add(-*cfg.MaxAge).UTC().Format(time.RFC3339Nano)
		conds = append(conds, `"timestamp" < ?`)
		args = append(args, cutoff)
	}
	if cfg.MaxEntries != nil {
		conds = append(conds, fmt.Sprintf(
			`"id" NOT IN (SELECT "id" FROM %s WHERE IFNULL("tree_node_id", 0) = ? ORDER BY "id" DESC LIMIT ?)`, valuesTable))
		args = append(args, nodeID, *cfg.MaxEntries)
	}
	if len(conds) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE IFNULL("tree_node_id", 0) = ? AND "id" <> %s AND (%s);`,
		valuesTable, currentIDExpr, strings.Join(conds, " OR "))

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: cleanup %v: %w", path, err)
	}
	return nil
}

func rowToMeta(changeIDStr, timestampStr string, deleted bool) (persistence.ValueMeta, error) {
	changeID, err := ids.Parse(changeIDStr)
	if err != nil {
		return persistence.ValueMeta{}, fmt.Errorf("sqlite: parse change_id %q: %w", changeIDStr, err)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return persistence.ValueMeta{}, fmt.Errorf("sqlite: parse timestamp %q: %w", timestampStr, err)
	}
	return persistence.ValueMeta{ChangeID: changeID, Timestamp: timestamp, Deleted: deleted}, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullableNodeID maps the synthetic root id to the NULL tree_node_id the
// values table stores for root-path revisions.
func nullableNodeID(id int64) any {
	if id == rootNodeID {
		return nil
	}
	return id
}

func rawPrefix(cfg persistence.StoreConfig) string {
	return persistence.TablePrefix(cfg.Namespace, cfg.StoreName)
}

// quotedPrefix returns the prefix with a leading quote already opened, so
// DDL can write %[1]sdatastore_tree" without repeating the quoting dance
// for every table/index name.
func quotedPrefix(cfg persistence.StoreConfig) string {
	return `"` + rawPrefix(cfg)
}
