package sqlite

import (
	"database/sql"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// ─── Coverage Graph Repository ──────────────────────────────────────────────

// UpsertNode inserts a node or merges metadata into an existing one,
// bumping updated_at. json_patch keeps previously-observed metadata keys
// that the new observation does not carry.
func (d *DB) UpsertNode(n domain.CoverageNode) error {
	_, err := d.db.Exec(
		`INSERT INTO coverage_graph_nodes (node_id, node_type, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
			metadata   = json_patch(coverage_graph_nodes.metadata, excluded.metadata),
			updated_at = excluded.updated_at`,
		n.NodeID, string(n.NodeType), marshalMeta(n.Metadata),
		n.CreatedAt.Unix(), n.UpdatedAt.Unix(),
	)
	return err
}

// BumpEdge merges one observation of an edge: insert with weight 1 on first
// sight, otherwise weight+1 and last_seen bumped. The increment happens
// inside the UPSERT, not as read-modify-write, so near-simultaneous bumps
// from two processes cannot race at the storage layer.
func (d *DB) BumpEdge(from, to string, et domain.EdgeType, seen time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO coverage_graph_edges (from_node, to_node, edge_type, weight, first_seen, last_seen)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(from_node, to_node, edge_type) DO UPDATE SET
			weight    = weight + 1,
			last_seen = excluded.last_seen`,
		from, to, string(et), seen.Unix(), seen.Unix(),
	)
	return err
}

// GetNode retrieves a single node, or nil when absent.
func (d *DB) GetNode(nodeID string) (*domain.CoverageNode, error) {
	row := d.db.QueryRow(
		`SELECT node_id, node_type, metadata, created_at, updated_at
		 FROM coverage_graph_nodes WHERE node_id = ?`, nodeID,
	)
	return scanNode(row)
}

// EdgesFrom returns all edges originating at a node.
func (d *DB) EdgesFrom(nodeID string) ([]domain.CoverageEdge, error) {
	return d.queryEdges(
		`SELECT from_node, to_node, edge_type, weight, first_seen, last_seen, metadata
		 FROM coverage_graph_edges WHERE from_node = ? ORDER BY weight DESC`, nodeID,
	)
}

// EdgesTo returns all edges pointing at a node. This is the reverse lookup
// behind "which tests touch this changed resource".
func (d *DB) EdgesTo(nodeID string) ([]domain.CoverageEdge, error) {
	return d.queryEdges(
		`SELECT from_node, to_node, edge_type, weight, first_seen, last_seen, metadata
		 FROM coverage_graph_edges WHERE to_node = ? ORDER BY weight DESC`, nodeID,
	)
}

// NodesByIDs fetches the given nodes, skipping ids that do not exist.
func (d *DB) NodesByIDs(ids []string) ([]domain.CoverageNode, error) {
	var out []domain.CoverageNode
	for _, id := range ids {
		n, err := d.GetNode(id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, *n)
		}
	}
	return out, nil
}

// GraphStats summarizes the coverage graph.
type GraphStats struct {
	NodesByType map[string]int64 `json:"nodes_by_type"`
	EdgesByType map[string]int64 `json:"edges_by_type"`
	TotalWeight int64            `json:"total_weight"`
}

// Stats returns node and edge counts grouped by type.
func (d *DB) Stats() (GraphStats, error) {
	stats := GraphStats{
		NodesByType: make(map[string]int64),
		EdgesByType: make(map[string]int64),
	}

	rows, err := d.db.Query(`SELECT node_type, COUNT(*) FROM coverage_graph_nodes GROUP BY node_type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return stats, err
		}
		stats.NodesByType[t] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	erows, err := d.db.Query(`SELECT edge_type, COUNT(*), COALESCE(SUM(weight), 0) FROM coverage_graph_edges GROUP BY edge_type`)
	if err != nil {
		return stats, err
	}
	defer erows.Close()
	for erows.Next() {
		var t string
		var n, w int64
		if err := erows.Scan(&t, &n, &w); err != nil {
			return stats, err
		}
		stats.EdgesByType[t] = n
		stats.TotalWeight += w
	}
	return stats, erows.Err()
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

func scanNode(s scanner) (*domain.CoverageNode, error) {
	var n domain.CoverageNode
	var nodeType, meta string
	var created, updated int64

	err := s.Scan(&n.NodeID, &nodeType, &meta, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	n.NodeType = domain.NodeType(nodeType)
	n.Metadata = unmarshalMeta(meta)
	n.CreatedAt = time.Unix(created, 0)
	n.UpdatedAt = time.Unix(updated, 0)
	return &n, nil
}

func (d *DB) queryEdges(query string, args ...any) ([]domain.CoverageEdge, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CoverageEdge
	for rows.Next() {
		var e domain.CoverageEdge
		var edgeType, meta string
		var first, last int64
		if err := rows.Scan(&e.FromNode, &e.ToNode, &edgeType, &e.Weight, &first, &last, &meta); err != nil {
			return nil, err
		}
		e.EdgeType = domain.EdgeType(edgeType)
		e.FirstSeen = time.Unix(first, 0)
		e.LastSeen = time.Unix(last, 0)
		e.Metadata = unmarshalMeta(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}
