// Package coverage maintains the behavioral coverage graph: an incrementally
// merged map of which tests exercise which APIs, pages, UI components, and
// features. The graph is continuous — every observation merges into existing
// nodes and edges instead of replacing them.
package coverage

import (
	"fmt"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
)

// Store is the durable graph backing. Satisfied by *sqlite.DB.
type Store interface {
	UpsertNode(n domain.CoverageNode) error
	BumpEdge(from, to string, et domain.EdgeType, seen time.Time) error
	GetNode(nodeID string) (*domain.CoverageNode, error)
	EdgesFrom(nodeID string) ([]domain.CoverageEdge, error)
	EdgesTo(nodeID string) ([]domain.CoverageEdge, error)
	NodesByIDs(ids []string) ([]domain.CoverageNode, error)
	Stats() (sqlite.GraphStats, error)
}

// Intelligence derives graph merges from the event stream and answers the
// two load-bearing read queries: what does a test touch, and which tests
// touch a changed resource. The observer worker is the only writer.
type Intelligence struct {
	store Store
	now   func() time.Time // injectable clock for testing
}

// New creates the coverage intelligence over the given store.
func New(store Store) *Intelligence {
	return &Intelligence{store: store, now: time.Now}
}

// ProcessEvent derives zero or more node/edge merges for one event.
// Unknown or non-graph event types are ignored without error.
func (c *Intelligence) ProcessEvent(e domain.Event) error {
	switch e.Type {
	case domain.EventAPICall:
		return c.mergeAPICall(e)
	case domain.EventUIInteraction:
		return c.mergeUIInteraction(e)
	case domain.EventStep:
		return c.mergeStep(e)
	}
	return nil
}

// mergeAPICall ensures an api node and a test --calls_api--> api edge.
func (c *Intelligence) mergeAPICall(e domain.Event) error {
	endpoint := e.Meta(domain.MetaEndpoint)
	if endpoint == "" {
		return nil // Nothing to anchor the node on
	}

	testNode := domain.NodeID(domain.NodeTest, e.TestID)
	apiNode := domain.NodeID(domain.NodeAPI, endpoint)

	if err := c.ensureTestNode(e); err != nil {
		return err
	}
	meta := map[string]string{}
	if m := e.Meta(domain.MetaMethod); m != "" {
		meta[domain.MetaMethod] = m
	}
	if sc := e.Meta(domain.MetaStatusCode); sc != "" {
		meta[domain.MetaStatusCode] = sc
	}
	if err := c.upsert(apiNode, domain.NodeAPI, meta); err != nil {
		return err
	}
	return c.bump(testNode, apiNode, domain.EdgeCallsAPI)
}

// mergeUIInteraction ensures page and ui_component nodes with their
// visits_page / interacts_with edges, each only when the event carries
// the corresponding identifier.
func (c *Intelligence) mergeUIInteraction(e domain.Event) error {
	pageURL := e.Meta(domain.MetaPageURL)
	component := e.Meta(domain.MetaComponentName)
	if pageURL == "" && component == "" {
		return nil
	}

	testNode := domain.NodeID(domain.NodeTest, e.TestID)
	if err := c.ensureTestNode(e); err != nil {
		return err
	}

	if pageURL != "" {
		pageNode := domain.NodeID(domain.NodePage, pageURL)
		if err := c.upsert(pageNode, domain.NodePage, nil); err != nil {
			return err
		}
		if err := c.bump(testNode, pageNode, domain.EdgeVisitsPage); err != nil {
			return err
		}
	}

	if component != "" {
		compNode := domain.NodeID(domain.NodeUIComponent, component)
		meta := map[string]string{}
		if it := e.Meta(domain.MetaInteractionType); it != "" {
			meta[domain.MetaInteractionType] = it
		}
		if pageURL != "" {
			meta[domain.MetaPageURL] = pageURL
		}
		if err := c.upsert(compNode, domain.NodeUIComponent, meta); err != nil {
			return err
		}
		if err := c.bump(testNode, compNode, domain.EdgeInteractsWith); err != nil {
			return err
		}
	}
	return nil
}

// mergeStep ensures a feature node and a test --tests--> feature edge.
func (c *Intelligence) mergeStep(e domain.Event) error {
	stepName := e.Meta(domain.MetaStepName)
	if stepName == "" {
		return nil
	}

	testNode := domain.NodeID(domain.NodeTest, e.TestID)
	featureNode := domain.NodeID(domain.NodeFeature, stepName)

	if err := c.ensureTestNode(e); err != nil {
		return err
	}
	if err := c.upsert(featureNode, domain.NodeFeature, nil); err != nil {
		return err
	}
	return c.bump(testNode, featureNode, domain.EdgeTests)
}

// ─── Queries ────────────────────────────────────────────────────────────────

// TestCoverage is the answer to "what does this test touch".
type TestCoverage struct {
	TestID string               `json:"test_id"`
	Edges  []domain.CoverageEdge `json:"edges"`
	Nodes  []domain.CoverageNode `json:"nodes"`
}

// GetTestCoverage returns the resources a test exercises.
func (c *Intelligence) GetTestCoverage(testID string) (TestCoverage, error) {
	testNode := domain.NodeID(domain.NodeTest, testID)
	edges, err := c.store.EdgesFrom(testNode)
	if err != nil {
		return TestCoverage{}, fmt.Errorf("coverage for %s: %w", testID, err)
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ToNode)
	}
	nodes, err := c.store.NodesByIDs(ids)
	if err != nil {
		return TestCoverage{}, fmt.Errorf("coverage nodes for %s: %w", testID, err)
	}

	return TestCoverage{TestID: testID, Edges: edges, Nodes: nodes}, nil
}

// GetImpactedTests is the reverse lookup: which tests touch a changed
// resource. This is how downstream tooling answers "what should I re-run".
func (c *Intelligence) GetImpactedTests(resourceID string, resourceType domain.NodeType) ([]string, error) {
	if !resourceType.Valid() {
		return nil, fmt.Errorf("resource type %q: %w", string(resourceType), domain.ErrInvalidEvent)
	}

	target := domain.NodeID(resourceType, resourceID)
	edges, err := c.store.EdgesTo(target)
	if err != nil {
		return nil, fmt.Errorf("impacted tests for %s: %w", target, err)
	}

	testPrefix := string(domain.NodeTest) + ":"
	seen := make(map[string]struct{}, len(edges))
	var tests []string
	for _, e := range edges {
		if len(e.FromNode) <= len(testPrefix) || e.FromNode[:len(testPrefix)] != testPrefix {
			continue
		}
		id := e.FromNode[len(testPrefix):]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tests = append(tests, id)
	}
	return tests, nil
}

// Stats returns the graph summary.
func (c *Intelligence) Stats() (sqlite.GraphStats, error) {
	return c.store.Stats()
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (c *Intelligence) ensureTestNode(e domain.Event) error {
	meta := map[string]string{"framework": e.Framework}
	return c.upsert(domain.NodeID(domain.NodeTest, e.TestID), domain.NodeTest, meta)
}

func (c *Intelligence) upsert(nodeID string, nt domain.NodeType, meta map[string]string) error {
	now := c.now()
	return c.store.UpsertNode(domain.CoverageNode{
		NodeID:    nodeID,
		NodeType:  nt,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (c *Intelligence) bump(from, to string, et domain.EdgeType) error {
	return c.store.BumpEdge(from, to, et, c.now())
}
