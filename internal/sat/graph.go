package sat

import "fmt"

// GraphNode is one node of the decision graph.
type GraphNode struct {
	ID             string         `json:"id"`
	Label          string         `json:"label"`
	Kind           string         `json:"kind"` // root, policy, check, outcome
	Classification Classification `json:"classification,omitempty"`
}

// GraphEdge connects two nodes in evaluation order.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Graph is a deterministic directed decision graph built purely from
// the cached analysis, for the visualization collaborator.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph renders the analysis as a decision graph. Node and edge order
// follow combinator order, so two runs over the same definition produce
// byte-identical output.
func (a *Analysis) Graph() *Graph {
	g := &Graph{}
	g.Nodes = append(g.Nodes, GraphNode{ID: "root", Label: "request", Kind: "root"})

	prev := "root"
	for pi, p := range a.Policies {
		pid := fmt.Sprintf("policy-%d", pi)
		label := p.Name
		if p.Bypass {
			label += " (bypass)"
		}
		g.Nodes = append(g.Nodes, GraphNode{
			ID:             pid,
			Label:          label,
			Kind:           "policy",
			Classification: p.Authorize,
		})
		g.Edges = append(g.Edges, GraphEdge{From: prev, To: pid})

		last := pid
		for ci, c := range p.Checks {
			cid := fmt.Sprintf("policy-%d-check-%d", pi, ci)
			g.Nodes = append(g.Nodes, GraphNode{
				ID:             cid,
				Label:          fmt.Sprintf("%s %s", c.Kind, c.Predicate),
				Kind:           "check",
				Classification: c.Classification,
			})
			edgeLabel := ""
			if ci > 0 {
				edgeLabel = "continue"
			}
			g.Edges = append(g.Edges, GraphEdge{From: last, To: cid, Label: edgeLabel})
			last = cid
		}

		oid := fmt.Sprintf("policy-%d-default", pi)
		g.Nodes = append(g.Nodes, GraphNode{ID: oid, Label: "forbidden (no matching check)", Kind: "outcome"})
		g.Edges = append(g.Edges, GraphEdge{From: last, To: oid, Label: "exhausted"})

		prev = pid
	}
	return g
}
