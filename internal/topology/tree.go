// Package topology holds an exported hardware configuration tree (TwinCAT
// .tsproj/.xti style) as a read-only arena of nodes.
//
// Nodes are addressed by index and keep a parent index, so upward searches
// ("nearest Box above this Var") are plain loops and no node holds a pointer
// back into the tree.
package topology

import "strings"

// NodeID addresses a node inside a Tree.
type NodeID int

// None is returned by lookups that found nothing.
const None NodeID = -1

// Attr is a single XML attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is one element of the topology tree.
type Node struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Parent   NodeID
	Children []NodeID
}

// Tree is an immutable arena of nodes. The zero value is an empty tree.
type Tree struct {
	nodes []Node
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// Root returns the document element, or None for an empty tree.
func (t *Tree) Root() NodeID {
	if t.Len() == 0 {
		return None
	}
	return 0
}

func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < t.Len()
}

// Tag returns the element name of id.
func (t *Tree) Tag(id NodeID) string {
	if !t.valid(id) {
		return ""
	}
	return t.nodes[id].Tag
}

// Parent returns the parent of id, None for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	if !t.valid(id) {
		return None
	}
	return t.nodes[id].Parent
}

// Attr returns the value of the named attribute.
func (t *Tree) Attr(id NodeID, name string) (string, bool) {
	if !t.valid(id) {
		return "", false
	}
	for _, a := range t.nodes[id].Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when it is missing.
func (t *Tree) AttrOr(id NodeID, name, def string) string {
	if v, ok := t.Attr(id, name); ok {
		return v
	}
	return def
}

// Text returns the trimmed character data of id.
func (t *Tree) Text(id NodeID) string {
	if !t.valid(id) {
		return ""
	}
	return strings.TrimSpace(t.nodes[id].Text)
}

// Children returns the direct children of id.
func (t *Tree) Children(id NodeID) []NodeID {
	if !t.valid(id) {
		return nil
	}
	return t.nodes[id].Children
}

// Child returns the first direct child with the given tag.
func (t *Tree) Child(id NodeID, tag string) NodeID {
	for _, c := range t.Children(id) {
		if t.nodes[c].Tag == tag {
			return c
		}
	}
	return None
}

// ChildrenByTag returns all direct children with the given tag.
func (t *Tree) ChildrenByTag(id NodeID, tag string) []NodeID {
	var out []NodeID
	for _, c := range t.Children(id) {
		if t.nodes[c].Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Has reports whether id carries the named value either as an attribute or
// as a child element.
func (t *Tree) Has(id NodeID, name string) bool {
	if _, ok := t.Attr(id, name); ok {
		return true
	}
	return t.Child(id, name) != None
}

// Value returns the named value from a child element's text, falling back to
// the attribute of the same name. Exports use both forms for Name, Type and
// BitOffs depending on vendor and version.
func (t *Tree) Value(id NodeID, name string) (string, bool) {
	if c := t.Child(id, name); c != None {
		return t.Text(c), true
	}
	return t.Attr(id, name)
}

// Name returns the Name child text or Name attribute of id.
func (t *Tree) Name(id NodeID) string {
	v, _ := t.Value(id, "Name")
	return v
}

// Ancestor returns the nearest strict ancestor with the given tag.
func (t *Tree) Ancestor(id NodeID, tag string) NodeID {
	for p := t.Parent(id); p != None; p = t.Parent(p) {
		if t.nodes[p].Tag == tag {
			return p
		}
	}
	return None
}

// AncestorWithAttr returns the nearest strict ancestor carrying attr.
func (t *Tree) AncestorWithAttr(id NodeID, attr string) NodeID {
	for p := t.Parent(id); p != None; p = t.Parent(p) {
		if _, ok := t.Attr(p, attr); ok {
			return p
		}
	}
	return None
}

// Descendants returns, in document order, every strict descendant of id for
// which match returns true. Subtrees rooted at a node for which stop returns
// true are not entered (the node itself is still offered to match). Either
// func may be nil.
func (t *Tree) Descendants(id NodeID, match, stop func(NodeID) bool) []NodeID {
	if !t.valid(id) {
		return nil
	}
	var out []NodeID
	stack := make([]NodeID, 0, 16)
	kids := t.nodes[id].Children
	for i := len(kids) - 1; i >= 0; i-- {
		stack = append(stack, kids[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if match == nil || match(n) {
			out = append(out, n)
		}
		if stop != nil && stop(n) {
			continue
		}
		kids := t.nodes[n].Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// PrecedingSiblings counts the siblings of id that come before it and carry
// the given tag.
func (t *Tree) PrecedingSiblings(id NodeID, tag string) int {
	p := t.Parent(id)
	if p == None {
		return 0
	}
	n := 0
	for _, c := range t.nodes[p].Children {
		if c == id {
			break
		}
		if t.nodes[c].Tag == tag {
			n++
		}
	}
	return n
}

// TagIs returns a predicate matching nodes with any of the given tags.
func (t *Tree) TagIs(tags ...string) func(NodeID) bool {
	return func(id NodeID) bool {
		tag := t.Tag(id)
		for _, want := range tags {
			if tag == want {
				return true
			}
		}
		return false
	}
}
