package tracker

import "github.com/ringtail/che/internal/models"

// RootLabel labels the synthetic root of the machine tree.
const RootLabel = "root"

// Node is a display node of the machine tree. Parent is a lookup key only.
// The root carries a Label and Children; every other node carries a Machine.
type Node struct {
	ID       string          `json:"id,omitempty"`
	Parent   string          `json:"parent,omitempty"`
	Label    string          `json:"label,omitempty"`
	Machine  *models.Machine `json:"machine,omitempty"`
	Children []*Node         `json:"children,omitempty"`
}

func (n *Node) clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{ID: n.ID, Parent: n.Parent, Label: n.Label, Machine: n.Machine.Clone()}
	if n.Children != nil {
		c.Children = make([]*Node, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, child.clone())
		}
	}
	return c
}

// Registry is the in-process replica of known machines: a tree for display
// and a cache of resolved running machines. The root's children are the
// discovery-ordered list and nodes indexes them by machine id.
//
// Registry is owned by the loop goroutine and is not safe for concurrent use.
type Registry struct {
	root  *Node
	nodes map[string]*Node
	cache map[string]*models.Machine
}

func NewRegistry() *Registry {
	return &Registry{
		root:  &Node{Label: RootLabel, Children: []*Node{}},
		nodes: make(map[string]*Node),
		cache: make(map[string]*models.Machine),
	}
}

// Upsert inserts m or replaces the machine of its existing node. It reports
// whether a new node was created.
func (r *Registry) Upsert(m *models.Machine) bool {
	m = m.Clone()
	r.refreshCache(m)

	if n, ok := r.nodes[m.ID]; ok {
		n.Machine = m
		return false
	}
	n := &Node{ID: m.ID, Parent: RootLabel, Machine: m}
	r.nodes[m.ID] = n
	r.root.Children = append(r.root.Children, n)
	return true
}

// Remove drops the node and cache entry for id. Unknown ids are ignored.
func (r *Registry) Remove(id string) (*models.Machine, bool) {
	delete(r.cache, id)
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	delete(r.nodes, id)
	for i, child := range r.root.Children {
		if child == n {
			r.root.Children = append(r.root.Children[:i], r.root.Children[i+1:]...)
			break
		}
	}
	return n.Machine.Clone(), true
}

// Reset replaces the whole tree with machines, in order. Cache entries of
// machines that are no longer present are dropped.
func (r *Registry) Reset(machines []*models.Machine) {
	keep := make(map[string]struct{}, len(machines))
	for _, m := range machines {
		keep[m.ID] = struct{}{}
	}
	for id := range r.cache {
		if _, ok := keep[id]; !ok {
			delete(r.cache, id)
		}
	}

	r.nodes = make(map[string]*Node, len(machines))
	r.root.Children = make([]*Node, 0, len(machines))
	for _, m := range machines {
		r.Upsert(m)
	}
}

// Get returns the machine of node id.
func (r *Registry) Get(id string) (*models.Machine, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Machine.Clone(), true
}

// Node returns a detached copy of the node for id, or nil.
func (r *Registry) Node(id string) *Node {
	return r.nodes[id].clone()
}

// List returns the machines in discovery order.
func (r *Registry) List() []*models.Machine {
	out := make([]*models.Machine, 0, len(r.root.Children))
	for _, n := range r.root.Children {
		out = append(out, n.Machine.Clone())
	}
	return out
}

// First returns the earliest discovered machine still present.
func (r *Registry) First() (*models.Machine, bool) {
	if len(r.root.Children) == 0 {
		return nil, false
	}
	return r.root.Children[0].Machine.Clone(), true
}

func (r *Registry) Len() int { return len(r.root.Children) }

// Tree returns a deep copy of the tree rooted at the synthetic root.
func (r *Registry) Tree() *Node {
	return r.root.clone()
}

// Cache records m as the latest resolution for its id.
func (r *Registry) Cache(m *models.Machine) {
	r.refreshCache(m.Clone())
}

// Cached returns the cached machine for id. Only running machines are
// answered from the cache; anything else has to be resolved again.
func (r *Registry) Cached(id string) (*models.Machine, bool) {
	m, ok := r.cache[id]
	if !ok || m.Status != models.StatusRunning {
		return nil, false
	}
	return m.Clone(), true
}

func (r *Registry) refreshCache(m *models.Machine) {
	if m.Status == models.StatusRunning {
		r.cache[m.ID] = m
		return
	}
	delete(r.cache, m.ID)
}

// Consistent reports whether the id index and the ordered list hold the same
// set of nodes.
func (r *Registry) Consistent() bool {
	if len(r.nodes) != len(r.root.Children) {
		return false
	}
	for _, n := range r.root.Children {
		if r.nodes[n.ID] != n {
			return false
		}
	}
	return true
}
