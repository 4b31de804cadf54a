package capture

import (
	"strings"
	"sync"
	"workflow-preview/core"
)

// Box is an element's layout box in document pixels.
type Box struct {
	X, Y, W, H float64
}

// Node is one element of a rendered scene tree.
type Node struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
	// Style holds the element's own declarations, e.g. "background-color": "var(--card)".
	Style    map[string]string
	Text     string
	Box      Box
	Children []*Node

	parent *Node
}

// NewNode creates an element with the given tag and classes.
func NewNode(tag string, classes ...string) *Node {
	return &Node{
		Tag:     tag,
		Classes: classes,
		Attrs:   map[string]string{},
		Style:   map[string]string{},
	}
}

// Append adds children to n and returns n.
func (n *Node) Append(children ...*Node) *Node {
	for _, child := range children {
		child.parent = n
		n.Children = append(n.Children, child)
	}
	return n
}

// Parent returns the element n is attached to, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

func (n *Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

func (n *Node) AddClass(class string) {
	if !n.HasClass(class) {
		n.Classes = append(n.Classes, class)
	}
}

func (n *Node) SetAttr(name, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[name] = value
	return n
}

func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

func (n *Node) SetStyle(property, value string) *Node {
	if n.Style == nil {
		n.Style = map[string]string{}
	}
	n.Style[property] = value
	return n
}

// Walk visits n and its descendants in document order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// matches supports the selector forms the preview pipeline uses: ".class", "#id" and "tag".
func (n *Node) matches(selector string) bool {
	switch {
	case strings.HasPrefix(selector, "."):
		return n.HasClass(selector[1:])
	case strings.HasPrefix(selector, "#"):
		return n.ID == selector[1:]
	default:
		return strings.EqualFold(n.Tag, selector)
	}
}

// Container is an off-screen wrapper holding one themed clone.
type Container struct {
	Theme   core.Theme
	Classes []string
	// Vars are the theme custom properties scoped to this container.
	Vars  map[string]string
	Style map[string]string
	Box   Box
	Root  *Node
}

// HasClass reports whether the container carries class.
func (c *Container) HasClass(class string) bool {
	for _, cl := range c.Classes {
		if cl == class {
			return true
		}
	}
	return false
}

// Document owns a live scene tree and the off-screen layer containers are attached to.
type Document struct {
	// mu guards the live tree; clones take a read lock.
	mu   sync.RWMutex
	root *Node

	layerMu   sync.Mutex
	offscreen []*Container
}

func NewDocument(root *Node) *Document {
	return &Document{root: root}
}

// Root returns the live root element.
func (d *Document) Root() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// Query returns the first element in document order matching selector, or nil.
func (d *Document) Query(selector string) *Node {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.root == nil {
		return nil
	}
	var found *Node
	d.root.Walk(func(n *Node) bool {
		if n.matches(selector) {
			found = n
			return false
		}
		return true
	})
	return found
}

// Mutate runs fn with exclusive access to the live tree.
func (d *Document) Mutate(fn func(root *Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

func (d *Document) attach(c *Container) {
	d.layerMu.Lock()
	defer d.layerMu.Unlock()
	d.offscreen = append(d.offscreen, c)
}

// Detach removes c from the off-screen layer. Detaching twice is a no-op.
func (d *Document) Detach(c *Container) {
	d.layerMu.Lock()
	defer d.layerMu.Unlock()
	for i, attached := range d.offscreen {
		if attached == c {
			d.offscreen = append(d.offscreen[:i], d.offscreen[i+1:]...)
			return
		}
	}
}

// Contains reports whether c is attached to the off-screen layer.
func (d *Document) Contains(c *Container) bool {
	d.layerMu.Lock()
	defer d.layerMu.Unlock()
	for _, attached := range d.offscreen {
		if attached == c {
			return true
		}
	}
	return false
}

// Containers returns the containers currently attached to the off-screen layer.
func (d *Document) Containers() []*Container {
	d.layerMu.Lock()
	defer d.layerMu.Unlock()
	out := make([]*Container, len(d.offscreen))
	copy(out, d.offscreen)
	return out
}
