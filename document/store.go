// Package document provides the in-memory CAD document model the gateway
// mutates on behalf of clients. The model is long-lived and process-wide; it
// outlives any single request, which is why the dispatcher serializes every
// mutating command against it.
package document

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Common errors.
var (
	ErrNotFound       = errors.New("document not found")
	ErrObjectNotFound = errors.New("object not found")
	ErrExists         = errors.New("already exists")
	ErrNoActive       = errors.New("no active document")
)

// Store holds all open documents. Reads may run concurrently; the document
// model is not safe for concurrent mutation, so all mutating access funnels
// through the dispatcher's single mutation loop.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	active string
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{docs: make(map[string]*Document)}
}

var unsafeNameChars = regexp.MustCompile(`[^\w-]`)

// SanitizeName maps an arbitrary requested document name onto a legal one:
// unsafe characters become underscores, and empty or all-digit names get a
// Document_ prefix.
func SanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" || isDigits(name) {
		name = "Document_" + name
	}
	return name
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Create opens a new document and makes it active.
func (s *Store) Create(name string) (*Document, error) {
	name = SanitizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; ok {
		return nil, fmt.Errorf("document %q: %w", name, ErrExists)
	}
	doc := &Document{
		name:      name,
		objects:   make(map[string]*Object),
		createdAt: time.Now(),
	}
	s.docs[name] = doc
	s.active = name
	return doc, nil
}

// Open returns the named document, creating it when absent. Used by
// run_macro, which targets a document that may not exist yet.
func (s *Store) Open(name string) (*Document, bool, error) {
	name = SanitizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.docs[name]; ok {
		s.active = name
		return doc, false, nil
	}
	doc := &Document{
		name:      name,
		objects:   make(map[string]*Object),
		createdAt: time.Now(),
	}
	s.docs[name] = doc
	s.active = name
	return doc, true, nil
}

// Get returns the named document, or the active one when name is empty.
func (s *Store) Get(name string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.active
		if name == "" {
			return nil, ErrNoActive
		}
	}
	doc, ok := s.docs[name]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", name, ErrNotFound)
	}
	return doc, nil
}

// Active returns the active document name, or "".
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// List returns all open document names, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.docs))
	for n := range s.docs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close removes a document from the store.
func (s *Store) Close(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; !ok {
		return fmt.Errorf("document %q: %w", name, ErrNotFound)
	}
	delete(s.docs, name)
	if s.active == name {
		s.active = ""
	}
	return nil
}

// Document is one open CAD document: a named collection of model objects.
type Document struct {
	mu        sync.RWMutex
	name      string
	objects   map[string]*Object
	order     []string
	createdAt time.Time
	recompute int
}

// Name returns the document name.
func (d *Document) Name() string {
	return d.name
}

// AddObject creates an object in the document.
func (d *Document) AddObject(name, typ string, props map[string]any) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[name]; ok {
		return nil, fmt.Errorf("object %q: %w", name, ErrExists)
	}
	if props == nil {
		props = make(map[string]any)
	}
	obj := &Object{name: name, typ: typ, props: props}
	d.objects[name] = obj
	d.order = append(d.order, name)
	return obj, nil
}

// Object returns the named object.
func (d *Document) Object(name string) (*Object, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	obj, ok := d.objects[name]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", name, ErrObjectNotFound)
	}
	return obj, nil
}

// RemoveObject deletes the named object.
func (d *Document) RemoveObject(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[name]; !ok {
		return fmt.Errorf("object %q: %w", name, ErrObjectNotFound)
	}
	delete(d.objects, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// Objects returns object names in creation order.
func (d *Document) Objects() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Recompute marks the document recomputed. The real host recalculates the
// feature tree here; the in-memory model only counts invocations so tests
// and clients can observe that it happened.
func (d *Document) Recompute() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recompute++
	return d.recompute
}

// Recomputes returns how many times the document was recomputed.
func (d *Document) Recomputes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recompute
}

// Object is a single model object with typed properties.
type Object struct {
	mu    sync.RWMutex
	name  string
	typ   string
	props map[string]any
}

// Name returns the object name.
func (o *Object) Name() string { return o.name }

// Type returns the object type tag.
func (o *Object) Type() string { return o.typ }

// Property returns one property value.
func (o *Object) Property(key string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.props[key]
	return v, ok
}

// SetProperty sets one property value.
func (o *Object) SetProperty(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.props[key] = value
}

// Properties returns a copy of all properties.
func (o *Object) Properties() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.props))
	for k, v := range o.props {
		out[k] = v
	}
	return out
}
