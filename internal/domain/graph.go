package domain

import "time"

// ─── Coverage Graph Vocabulary ──────────────────────────────────────────────

// NodeType classifies a coverage graph node.
type NodeType string

const (
	NodeTest        NodeType = "test"
	NodeAPI         NodeType = "api"
	NodePage        NodeType = "page"
	NodeUIComponent NodeType = "ui_component"
	NodeFeature     NodeType = "feature"
)

// Valid reports whether the node type is one of the known variants.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTest, NodeAPI, NodePage, NodeUIComponent, NodeFeature:
		return true
	}
	return false
}

// EdgeType classifies a coverage graph edge.
type EdgeType string

const (
	EdgeTests         EdgeType = "tests"
	EdgeCallsAPI      EdgeType = "calls_api"
	EdgeVisitsPage    EdgeType = "visits_page"
	EdgeInteractsWith EdgeType = "interacts_with"
)

// NodeID builds the canonical "{type}:{identifier}" node key.
func NodeID(t NodeType, identifier string) string {
	return string(t) + ":" + identifier
}

// ─── Coverage Graph Records ─────────────────────────────────────────────────

// CoverageNode is a lazily-created vertex of the behavioral coverage graph.
// Nodes are created on first observation and merged on every later one;
// the engine never deletes them.
type CoverageNode struct {
	NodeID    string            `json:"node_id"`
	NodeType  NodeType          `json:"node_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CoverageEdge is a weighted relationship keyed by (from, to, type).
// Weight is the observation count and is monotonically non-decreasing:
// an existing edge is only ever merged (weight+1, last_seen bumped),
// never overwritten. That merge is what makes the graph continuous
// rather than a snapshot.
type CoverageEdge struct {
	FromNode  string            `json:"from_node"`
	ToNode    string            `json:"to_node"`
	EdgeType  EdgeType          `json:"edge_type"`
	Weight    int64             `json:"weight"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
