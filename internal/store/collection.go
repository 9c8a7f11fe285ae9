package store

import "fmt"

// Collection is an append-only, id-keyed store of one record type.
// Records are run through normalize before insertion; normalize must be
// pure and return the record to store.
type Collection[T any] struct {
	name      CollectionName
	idOf      func(*T) ID
	normalize func(T) (T, error)

	items   []*T
	byID    map[ID]int
	lastID  ID
	version uint64
}

// NewCollection creates an empty collection. normalize may be nil.
func NewCollection[T any](name CollectionName, idOf func(*T) ID, normalize func(T) (T, error)) *Collection[T] {
	return &Collection[T]{
		name:      name,
		idOf:      idOf,
		normalize: normalize,
		byID:      make(map[ID]int),
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() CollectionName { return c.name }

// Add normalizes rec and appends it. Ids must be non-zero, unique and
// strictly increasing. The stored record is returned.
func (c *Collection[T]) Add(rec T) (*T, error) {
	if c.normalize != nil {
		var err error
		rec, err = c.normalize(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	id := c.idOf(&rec)
	switch {
	case id == 0:
		return nil, fmt.Errorf("%s: %w: zero id", c.name, ErrMalformedRecord)
	case c.Has(id):
		return nil, fmt.Errorf("%s: %w: %d", c.name, ErrDuplicateID, id)
	case id < c.lastID:
		return nil, fmt.Errorf("%s: %w: %d after %d", c.name, ErrOutOfOrder, id, c.lastID)
	}
	stored := &rec
	c.byID[id] = len(c.items)
	c.items = append(c.items, stored)
	c.lastID = id
	c.version++
	return stored, nil
}

// replace swaps the record stored under id for rec. Used for the single
// active-to-popped transition of execution contexts.
func (c *Collection[T]) replace(id ID, rec T) {
	i, ok := c.byID[id]
	if !ok {
		return
	}
	c.items[i] = &rec
	c.version++
}

// Get returns the record with id, or nil.
func (c *Collection[T]) Get(id ID) *T {
	i, ok := c.byID[id]
	if !ok {
		return nil
	}
	return c.items[i]
}

// Has reports whether id is stored.
func (c *Collection[T]) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns every record in insertion (and therefore id) order.
// The returned slice must not be modified.
func (c *Collection[T]) All() []*T {
	return c.items
}

// Len returns the number of stored records.
func (c *Collection[T]) Len() int { return len(c.items) }

// LastID returns the highest stored id, or 0.
func (c *Collection[T]) LastID() ID { return c.lastID }

// Version is bumped on every insert or replacement.
func (c *Collection[T]) Version() uint64 { return c.version }
