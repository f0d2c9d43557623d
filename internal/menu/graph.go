package menu

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Option is one selectable entry in a menu node. Exactly one of Next (another
// node) or Action (a terminal action id) must be set.
type Option struct {
	Code                 string `json:"code"`
	Text                 string `json:"text"`
	Next                 string `json:"next,omitempty"`
	Action               string `json:"action,omitempty"`
	RequiresSubscription bool   `json:"requires_subscription,omitempty"`
}

// IsTerminal reports whether choosing this option ends the dialog.
func (o *Option) IsTerminal() bool {
	return o.Action != ""
}

// Node is one dialog state: a title plus an ordered option list.
type Node struct {
	ID      string   `json:"-"`
	Title   string   `json:"title"`
	Options []Option `json:"options"`
}

// Find returns the option matching the input code exactly, or nil.
func (n *Node) Find(code string) *Option {
	for i := range n.Options {
		if n.Options[i].Code == code {
			return &n.Options[i]
		}
	}
	return nil
}

// Render formats the node for a CON response: title, then one numbered line
// per option.
func (n *Node) Render() string {
	var b strings.Builder
	b.WriteString(n.Title)
	for _, opt := range n.Options {
		b.WriteString("\n")
		b.WriteString(opt.Code)
		b.WriteString(". ")
		b.WriteString(opt.Text)
	}
	return b.String()
}

// Graph is a validated menu graph for one service. Navigation is driven by
// discrete user input, so back-references and revisits are legal.
type Graph struct {
	Root  string           `json:"root"`
	Nodes map[string]*Node `json:"nodes"`
}

// RootNode returns the entry node of the graph.
func (g *Graph) RootNode() *Node {
	return g.Nodes[g.Root]
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// CompileResult carries non-fatal findings from graph validation.
type CompileResult struct {
	// Unreachable lists node ids not reachable from the root. A warning,
	// not an error: admin-authored graphs sometimes stage nodes ahead of
	// wiring them in.
	Unreachable []string
}

// Compile parses raw JSON into a validated Graph. knownActions, when
// non-nil, restricts action ids to the registered set. All structural
// problems are load-time errors so they can never surface mid-dialog.
func Compile(raw []byte, knownActions map[string]bool) (*Graph, *CompileResult, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, nil, fmt.Errorf("parse menu structure: %w", err)
	}

	if len(g.Nodes) == 0 {
		return nil, nil, fmt.Errorf("menu has no nodes")
	}
	if g.Root == "" {
		return nil, nil, fmt.Errorf("menu has no root node id")
	}
	if _, ok := g.Nodes[g.Root]; !ok {
		return nil, nil, fmt.Errorf("root node %q not defined", g.Root)
	}

	for id, node := range g.Nodes {
		node.ID = id
		seen := make(map[string]bool, len(node.Options))
		for _, opt := range node.Options {
			if opt.Code == "" {
				return nil, nil, fmt.Errorf("node %q: option with empty code", id)
			}
			if seen[opt.Code] {
				return nil, nil, fmt.Errorf("node %q: duplicate option code %q", id, opt.Code)
			}
			seen[opt.Code] = true

			switch {
			case opt.Next != "" && opt.Action != "":
				return nil, nil, fmt.Errorf("node %q option %q: both next and action set", id, opt.Code)
			case opt.Next == "" && opt.Action == "":
				return nil, nil, fmt.Errorf("node %q option %q: neither next nor action set", id, opt.Code)
			case opt.Next != "":
				if _, ok := g.Nodes[opt.Next]; !ok {
					return nil, nil, fmt.Errorf("node %q option %q: unknown target node %q", id, opt.Code, opt.Next)
				}
			default:
				if knownActions != nil && !knownActions[opt.Action] {
					return nil, nil, fmt.Errorf("node %q option %q: unknown action %q", id, opt.Code, opt.Action)
				}
			}
		}
	}

	return &g, &CompileResult{Unreachable: unreachable(&g)}, nil
}

// unreachable walks the graph from the root and reports unvisited node ids.
func unreachable(g *Graph) []string {
	visited := make(map[string]bool, len(g.Nodes))
	stack := []string{g.Root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, opt := range g.Nodes[id].Options {
			if opt.Next != "" && !visited[opt.Next] {
				stack = append(stack, opt.Next)
			}
		}
	}

	var missed []string
	for id := range g.Nodes {
		if !visited[id] {
			missed = append(missed, id)
		}
	}
	return missed
}
