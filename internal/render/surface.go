// Package render reconciles parsed answer segments against a tree of UI
// elements, mutating only what changed between updates.
package render

import "slices"

// ElementID identifies an element on a Surface. Root is the transcript.
type ElementID int

// Root is the transcript container every message is appended to.
const Root ElementID = 0

// ElementKind classifies elements for display.
type ElementKind string

const (
	ElementUserMessage   ElementKind = "user-message"
	ElementBotMessage    ElementKind = "bot-message"
	ElementThinking      ElementKind = "thinking"
	ElementResponse      ElementKind = "response"
	ElementCursor        ElementKind = "cursor"
	ElementStatus        ElementKind = "status"
	ElementErrorNotice   ElementKind = "error-message"
	ElementBlockedNotice ElementKind = "blocked-message"
)

// Surface is the mutable element tree a Renderer draws on. Operations on
// unknown elements are no-ops.
type Surface interface {
	Create(parent ElementID, kind ElementKind) ElementID
	SetContent(id ElementID, content string)
	SetLabel(id ElementID, label string)
	SetCollapsed(id ElementID, collapsed bool)
	Remove(id ElementID)
}

// Element is a snapshot of one node of a Document.
type Element struct {
	ID        ElementID
	Parent    ElementID
	Kind      ElementKind
	Content   string
	Label     string
	Collapsed bool
	Children  []ElementID
}

// Document is an in-memory Surface. It is owned by a single event loop and
// is not safe for concurrent use.
type Document struct {
	elements  map[ElementID]*Element
	next      ElementID
	mutations int
}

// NewDocument returns a Document holding only the root.
func NewDocument() *Document {
	return &Document{
		elements: map[ElementID]*Element{Root: {ID: Root}},
		next:     Root + 1,
	}
}

// Create appends a new child of kind to parent. A missing parent yields an
// element attached to the root.
func (d *Document) Create(parent ElementID, kind ElementKind) ElementID {
	p, ok := d.elements[parent]
	if !ok {
		p = d.elements[Root]
	}
	id := d.next
	d.next++
	d.elements[id] = &Element{ID: id, Parent: p.ID, Kind: kind}
	p.Children = append(p.Children, id)
	d.mutations++
	return id
}

func (d *Document) SetContent(id ElementID, content string) {
	if e, ok := d.elements[id]; ok {
		e.Content = content
		d.mutations++
	}
}

func (d *Document) SetLabel(id ElementID, label string) {
	if e, ok := d.elements[id]; ok {
		e.Label = label
		d.mutations++
	}
}

func (d *Document) SetCollapsed(id ElementID, collapsed bool) {
	if e, ok := d.elements[id]; ok {
		e.Collapsed = collapsed
		d.mutations++
	}
}

// Remove deletes id and its subtree. The root cannot be removed.
func (d *Document) Remove(id ElementID) {
	e, ok := d.elements[id]
	if !ok || id == Root {
		return
	}
	if p, ok := d.elements[e.Parent]; ok {
		p.Children = slices.DeleteFunc(p.Children, func(c ElementID) bool { return c == id })
	}
	d.removeTree(e)
	d.mutations++
}

func (d *Document) removeTree(e *Element) {
	for _, c := range e.Children {
		if child, ok := d.elements[c]; ok {
			d.removeTree(child)
		}
	}
	delete(d.elements, e.ID)
}

// Toggle flips the collapsed state of id, as a click on a header would.
func (d *Document) Toggle(id ElementID) bool {
	e, ok := d.elements[id]
	if !ok {
		return false
	}
	collapsed := !e.Collapsed
	d.SetCollapsed(id, collapsed)
	return collapsed
}

// Clear removes every element below the root.
func (d *Document) Clear() {
	for _, c := range slices.Clone(d.elements[Root].Children) {
		d.Remove(c)
	}
}

// Element returns a copy of the element with id.
func (d *Document) Element(id ElementID) (Element, bool) {
	e, ok := d.elements[id]
	if !ok {
		return Element{}, false
	}
	cp := *e
	cp.Children = slices.Clone(e.Children)
	return cp, true
}

// Children returns the child IDs of id in display order.
func (d *Document) Children(id ElementID) []ElementID {
	if e, ok := d.elements[id]; ok {
		return slices.Clone(e.Children)
	}
	return nil
}

// FindAll returns every element of kind in depth-first display order.
func (d *Document) FindAll(kind ElementKind) []ElementID {
	var out []ElementID
	var walk func(id ElementID)
	walk = func(id ElementID) {
		e := d.elements[id]
		if e.Kind == kind {
			out = append(out, id)
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(Root)
	return out
}

// Len returns the number of elements, excluding the root.
func (d *Document) Len() int {
	return len(d.elements) - 1
}

// Mutations counts every state-changing call applied so far.
func (d *Document) Mutations() int {
	return d.mutations
}
