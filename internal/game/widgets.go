package game

import "crewdash/internal/event"

// WidgetSet is an insertion-ordered collection of widgets. Order is
// meaningful: extend-mode boards distribute widgets across devices by
// position, and edits must not shuffle it.
type WidgetSet struct {
	order []string
	byID  map[string]event.Widget
}

// NewWidgetSet builds a set preserving the order of ws. Duplicate ids
// keep their first position and take the last snapshot.
func NewWidgetSet(ws []event.Widget) *WidgetSet {
	s := &WidgetSet{byID: make(map[string]event.Widget, len(ws))}
	for _, w := range ws {
		s.Put(w)
	}
	return s
}

// Put inserts or replaces a widget. An existing id keeps its position;
// a new id is appended.
func (s *WidgetSet) Put(w event.Widget) {
	if _, ok := s.byID[w.ID]; !ok {
		s.order = append(s.order, w.ID)
	}
	s.byID[w.ID] = w
}

// Delete removes a widget by id.
func (s *WidgetSet) Delete(id string) {
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns the widget for id.
func (s *WidgetSet) Get(id string) (event.Widget, bool) {
	w, ok := s.byID[id]
	return w, ok
}

// At returns the widget at insertion position i.
func (s *WidgetSet) At(i int) event.Widget {
	return s.byID[s.order[i]]
}

// Len returns the number of widgets.
func (s *WidgetSet) Len() int {
	return len(s.order)
}

// List returns all widgets in insertion order.
func (s *WidgetSet) List() []event.Widget {
	out := make([]event.Widget, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
