package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// querier is satisfied by both *sql.DB and *sql.Tx; the adapter currently
// only ever uses *sql.DB, but the node helpers stay generic over it so a
// transactional caller could reuse them unchanged.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rootNodeID is the in-process id for the tree root. The root has no row in
// the tree table (its children have a NULL parent_id), and values stored at
// the root path carry a NULL tree_node_id; AUTOINCREMENT ids start at 1, so
// 0 never collides with a real node.
const rootNodeID int64 = 0

// findNodeID walks path from the root, returning ok=false the moment a
// segment is missing rather than creating it. The empty path resolves to
// rootNodeID, which always exists.
func (a *Adapter) findNodeID(ctx context.Context, q querier, prefix string, path pathtree.Path) (int64, bool, error) {
	var parentID sql.NullInt64
	nodeID := rootNodeID

	query := fmt.Sprintf(`SELECT "id" FROM "%sdatastore_tree" WHERE IFNULL("parent_id", 0) = IFNULL(?, 0) AND "key" = ?;`, prefix)

	for _, key := range path {
		var id int64
		err := q.QueryRowContext(ctx, query, parentID, key).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("sqlite: find node %v: %w", path, err)
		}
		nodeID = id
		parentID = sql.NullInt64{Int64: id, Valid: true}
	}

	return nodeID, true, nil
}

// getOrCreateNodeID walks path from the root, creating any missing segment
// nodes along the way. The empty path resolves to rootNodeID without
// touching the database.
func (a *Adapter) getOrCreateNodeID(ctx context.Context, q querier, prefix string, path pathtree.Path) (int64, error) {
	selectQuery := fmt.Sprintf(`SELECT "id" FROM "%sdatastore_tree" WHERE IFNULL("parent_id", 0) = IFNULL(?, 0) AND "key" = ?;`, prefix)
	insertQuery := fmt.Sprintf(`INSERT INTO "%sdatastore_tree" ("parent_id", "key") VALUES (?, ?);`, prefix)

	var parentID sql.NullInt64
	nodeID := rootNodeID

	for _, key := range path {
		var id int64
		err := q.QueryRowContext(ctx, selectQuery, parentID, key).Scan(&id)
		switch {
		case err == nil:
			nodeID = id
		case errors.Is(err, sql.ErrNoRows):
			res, err := q.ExecContext(ctx, insertQuery, parentID, key)
			if err != nil {
				return 0, fmt.Errorf("sqlite: create node segment %q of %v: %w", key, path, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("sqlite: read inserted node id for %q of %v: %w", key, path, err)
			}
			nodeID = id
		default:
			return 0, fmt.Errorf("sqlite: find-or-create node segment %q of %v: %w", key, path, err)
		}
		parentID = sql.NullInt64{Int64: nodeID, Valid: true}
	}

	return nodeID, nil
}

// subtreeHasLiveValue reports whether nodeID or any of its descendants has
// a current (most recent) revision that is not a delete marker.
func (a *Adapter) subtreeHasLiveValue(ctx context.Context, prefix string, nodeID int64) (bool, error) {
	query := fmt.Sprintf(`
WITH RECURSIVE "subtree" ("id") AS (
	SELECT ? AS "id"
	UNION ALL
	SELECT "t"."id" FROM "%[1]sdatastore_tree" "t" JOIN "subtree" "s" ON "t"."parent_id" = "s"."id"
)
SELECT EXISTS (
	SELECT 1 FROM "%[1]sdatastore_values" "v"
	WHERE "v"."tree_node_id" IN (SELECT "id" FROM "subtree")
	AND "v"."id" = (
		SELECT MAX("v2"."id") FROM "%[1]sdatastore_values" "v2" WHERE "v2"."tree_node_id" = "v"."tree_node_id"
	)
	AND "v"."value" IS NOT NULL
);`, prefix)

	var live bool
	if err := a.db.QueryRowContext(ctx, query, nodeID).Scan(&live); err != nil {
		return false, fmt.Errorf("sqlite: check subtree %d for live values: %w", nodeID, err)
	}
	return live, nil
}
