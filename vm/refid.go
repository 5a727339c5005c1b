package vm

import (
	"fmt"

	"github.com/emirpasic/gods/maps/hashbidimap"
	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/utils"
	"github.com/gofrs/uuid"
)

// ---------------------------------------------------------------------------
// RefTable: externally visible identity for live objects
// ---------------------------------------------------------------------------

// RefTable assigns small integer reference IDs to live objects on first
// request. IDs are stable while the object is alive and the entry is
// removed when the object is deleted. A released ID may be handed to a
// different object afterwards; the lowest released ID is reused first.
//
// IDs mean nothing outside the table that issued them. Every table carries
// a random epoch so persisted IDs can be matched to their table.
type RefTable struct {
	index *hashbidimap.Map     // *Object <-> int
	free  *priorityqueue.Queue // released IDs, lowest first
	next  int
	epoch uuid.UUID
}

// NewRefTable creates an empty table with a fresh epoch.
func NewRefTable() *RefTable {
	return &RefTable{
		index: hashbidimap.New(),
		free:  priorityqueue.NewWith(utils.IntComparator),
		epoch: uuid.Must(uuid.NewV4()),
	}
}

// Epoch identifies this table among all tables ever created.
func (t *RefTable) Epoch() uuid.UUID { return t.epoch }

// IDFor returns obj's reference ID, assigning one if needed.
func (t *RefTable) IDFor(obj *Object) (int, error) {
	if obj.Deleted() {
		return 0, fmt.Errorf("%w: cannot create reference ID", ErrObjectDeleted)
	}
	if id, ok := t.index.Get(obj); ok {
		return id.(int), nil
	}
	id := t.allocate()
	t.index.Put(obj, id)
	return id, nil
}

// Lookup returns obj's ID without assigning one.
func (t *RefTable) Lookup(obj *Object) (int, bool) {
	id, ok := t.index.Get(obj)
	if !ok {
		return 0, false
	}
	return id.(int), true
}

// ObjectFor returns the live object holding id.
func (t *RefTable) ObjectFor(id int) (*Object, bool) {
	obj, ok := t.index.GetKey(id)
	if !ok {
		return nil, false
	}
	return obj.(*Object), true
}

// Len returns the number of objects currently holding an ID.
func (t *RefTable) Len() int { return t.index.Size() }

func (t *RefTable) remove(obj *Object) {
	id, ok := t.index.Get(obj)
	if !ok {
		return
	}
	t.index.Remove(obj)
	t.free.Enqueue(id)
}

func (t *RefTable) allocate() int {
	if id, ok := t.free.Dequeue(); ok {
		return id.(int)
	}
	id := t.next
	t.next++
	return id
}
