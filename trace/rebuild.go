package trace

import (
	"fmt"

	"github.com/kusoof/wprof/node"
)

// Rebuild reconstructs the graphs described by a record stream, one per page
// in order of first appearance. Node handles in the rebuilt arenas equal the
// serialized ones.
func Rebuild(records []Record) ([]*Graph, error) {
	var order []string

	graphs := make(map[string]*Graph)
	nodes := make(map[string]map[node.ID]node.Node)

	for _, r := range records {
		g, ok := graphs[r.Page]
		if !ok {
			g = &Graph{
				UID:   r.Page,
				Arena: node.NewArena(),
				HOL:   make(map[node.ID]node.HOLClass),
			}
			graphs[r.Page] = g
			nodes[r.Page] = make(map[node.ID]node.Node)
			order = append(order, r.Page)
		}

		switch r.Kind {
		case KindPage:
			if r.PageInfo != nil {
				g.Info = *r.PageInfo
			}

			g.StartTime = r.StartTime
			if r.EndTime != nil {
				g.EndTime = *r.EndTime
			}
		case KindHOL:
			if r.HOL == nil {
				return nil, fmt.Errorf("HOL record of page %s has no detail", r.Page)
			}

			g.HOL[r.HOL.Tag] = r.HOL.Class
		default:
			if r.ID == node.None {
				return nil, fmt.Errorf("%s record of page %s has no id", r.Kind, r.Page)
			}

			if _, dup := nodes[r.Page][r.ID]; dup {
				return nil, fmt.Errorf("page %s: duplicated node %d", r.Page, r.ID)
			}

			n, err := toNode(r)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", r.Page, err)
			}

			nodes[r.Page][r.ID] = n
		}
	}

	out := make([]*Graph, 0, len(order))

	for _, uid := range order {
		g := graphs[uid]
		byID := nodes[uid]

		for i := 1; i <= len(byID); i++ {
			n, ok := byID[node.ID(i)]
			if !ok {
				return nil, fmt.Errorf("page %s: node %d is missing", uid, i)
			}

			g.Arena.Add(n)
		}

		out = append(out, g)
	}

	return out, nil
}

// BackTrace returns the chain of causes of a node, starting with the node
// itself and ending at a node with no parent. A cycle ends the walk.
func BackTrace(arena *node.Arena, id node.ID) []node.ID {
	var chain []node.ID

	seen := make(map[node.ID]bool)

	for id != node.None && !seen[id] {
		m := arena.Meta(id)
		if m == nil {
			break
		}

		seen[id] = true
		chain = append(chain, id)
		id = m.Parent
	}

	return chain
}
