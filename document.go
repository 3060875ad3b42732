package preload

import (
	"maps"
	"sync"
)

// Node is an element inserted into a [Document] by an adapter, e.g. the
// script element for a loaded script.
type Node struct {
	// Item is the item that inserted the node.
	Item *Item
	// Attributes of the element, e.g. "src" or "href".
	Attributes map[string]string
	// Tag is the element name, e.g. "script", "style", "link", "img".
	Tag string
	// Text is the inline content, if any.
	Text string
}

// Document is an ordered, append-only record of inserted nodes. It stands
// in for the head of an HTML document.
type Document struct {
	nodes []*Node
	mu    sync.RWMutex
}

// Append adds a node to the end of the document.
func (d *Document) Append(n *Node) {
	if n == nil {
		return
	}
	d.mu.Lock()
	d.nodes = append(d.nodes, n)
	d.mu.Unlock()
}

// Nodes returns copies of every node, in insertion order.
func (d *Document) Nodes() []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Node, len(d.nodes))
	for i, n := range d.nodes {
		out[i] = *n
		out[i].Attributes = maps.Clone(n.Attributes)
	}
	return out
}

// Find returns copies of the nodes with the given tag, in insertion order.
func (d *Document) Find(tag string) []Node {
	var out []Node
	for _, n := range d.Nodes() {
		if n.Tag == tag {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of nodes.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

func newNode(item *Item, tag string, attrs map[string]string) *Node {
	n := &Node{
		Item:       item,
		Tag:        tag,
		Attributes: make(map[string]string, len(attrs)+2),
	}
	maps.Copy(n.Attributes, attrs)
	return n
}
