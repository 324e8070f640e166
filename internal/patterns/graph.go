// Package patterns maintains the in-process relationship graph over stored
// patterns: adjacency queries, k-hop traversal, and cycle rejection for
// dependency-like edge types. An optional Neo4j mirror replicates edges for
// external graph tooling.
package patterns

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dominikbraun/graph"

	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

// Graph holds the directed pattern-relationship graph. The full graph keeps
// every edge type; a second cycle-guarded graph tracks only the edge types
// that must stay acyclic (depends_on, prerequisite_for, part_of).
type Graph struct {
	mu sync.RWMutex

	all     graph.Graph[string, string]
	acyclic graph.Graph[string, string]

	mirror *Mirror
}

// NewGraph creates an empty relationship graph.
func NewGraph(mirror *Mirror) *Graph {
	return &Graph{
		all:     graph.New(graph.StringHash, graph.Directed()),
		acyclic: graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
		mirror:  mirror,
	}
}

// Load rebuilds the graph from stored patterns and relationships.
func (g *Graph) Load(ctx context.Context, store storage.PatternRepository) error {
	patterns, err := store.ListPatterns(ctx, storage.PatternFilter{IncludeInactive: true, Limit: 1 << 20})
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.all = graph.New(graph.StringHash, graph.Directed())
	g.acyclic = graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	seenEdges := map[string]bool{}
	for _, p := range patterns {
		_ = g.all.AddVertex(p.ID)
		_ = g.acyclic.AddVertex(p.ID)
	}
	for _, p := range patterns {
		rels, err := store.ListRelationships(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, r := range rels {
			if seenEdges[r.ID] {
				continue
			}
			seenEdges[r.ID] = true
			_ = g.all.AddEdge(r.SourceID, r.TargetID, graph.EdgeWeight(int(r.Strength*100)))
			if r.Type.Acyclic() {
				_ = g.acyclic.AddEdge(r.SourceID, r.TargetID)
			}
		}
	}
	return nil
}

// AddPattern registers a pattern vertex.
func (g *Graph) AddPattern(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.all.AddVertex(id)
	_ = g.acyclic.AddVertex(id)
}

// AddRelationship registers an edge, rejecting cycles for dependency-like
// types before the store is touched.
func (g *Graph) AddRelationship(ctx context.Context, r *types.PatternRelationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_ = g.all.AddVertex(r.SourceID)
	_ = g.all.AddVertex(r.TargetID)
	_ = g.acyclic.AddVertex(r.SourceID)
	_ = g.acyclic.AddVertex(r.TargetID)

	if r.Type.Acyclic() {
		if cycle, err := graph.CreatesCycle(g.acyclic, r.SourceID, r.TargetID); err == nil && cycle {
			return kerrors.Validation("%s edge %s -> %s would create a dependency cycle",
				r.Type, r.SourceID, r.TargetID)
		}
		if err := g.acyclic.AddEdge(r.SourceID, r.TargetID); err != nil && err != graph.ErrEdgeAlreadyExists {
			return kerrors.Validation("rejected %s edge %s -> %s: %v", r.Type, r.SourceID, r.TargetID, err)
		}
	}
	if err := g.all.AddEdge(r.SourceID, r.TargetID, graph.EdgeWeight(int(r.Strength*100))); err != nil && err != graph.ErrEdgeAlreadyExists {
		return fmt.Errorf("failed to add edge: %w", err)
	}

	if g.mirror != nil {
		g.mirror.MirrorRelationship(ctx, r)
	}
	return nil
}

// Neighbors returns the direct successors of a pattern, sorted.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj, err := g.all.AdjacencyMap()
	if err != nil {
		return nil
	}
	var out []string
	for target := range adj[id] {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Related returns all patterns reachable within the given hop count,
// breadth-first, excluding the start vertex.
func (g *Graph) Related(id string, hops int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj, err := g.all.AdjacencyMap()
	if err != nil {
		return nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []string
	for h := 0; h < hops; h++ {
		var next []string
		for _, v := range frontier {
			for target := range adj[v] {
				if visited[target] {
					continue
				}
				visited[target] = true
				out = append(out, target)
				next = append(next, target)
			}
		}
		frontier = next
	}
	sort.Strings(out)
	return out
}
