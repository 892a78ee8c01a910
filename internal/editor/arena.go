package editor

import (
	"slices"

	"github.com/starford/blockpatch/internal/document"
)

// arena owns the blocks. Each block lives under a stable id for as long as it
// stays in the document; order holds the ids in document order.
type arena struct {
	next  uint64
	nodes map[uint64]*document.Block
	order []uint64
}

func newArena(v document.Value) *arena {
	a := &arena{nodes: make(map[uint64]*document.Block, len(v))}
	for _, b := range v {
		a.insert(len(a.order), b.Clone())
	}
	return a
}

func (a *arena) len() int { return len(a.order) }

func (a *arena) at(i int) *document.Block {
	if i < 0 || i >= len(a.order) {
		return nil
	}
	return a.nodes[a.order[i]]
}

func (a *arena) id(i int) uint64 { return a.order[i] }

func (a *arena) insert(i int, b document.Block) uint64 {
	a.next++
	id := a.next
	a.nodes[id] = &b
	a.order = slices.Insert(a.order, i, id)
	return id
}

func (a *arena) remove(i int) document.Block {
	id := a.order[i]
	b := a.nodes[id]
	delete(a.nodes, id)
	a.order = slices.Delete(a.order, i, i+1)
	return *b
}

func (a *arena) indexOfID(id uint64) int {
	return slices.Index(a.order, id)
}

func (a *arena) indexOfKey(key string) int {
	for i, id := range a.order {
		if a.nodes[id].Key == key {
			return i
		}
	}
	return -1
}

func (a *arena) value() document.Value {
	out := make(document.Value, len(a.order))
	for i, id := range a.order {
		out[i] = a.nodes[id].Clone()
	}
	return out
}

func (a *arena) clone() *arena {
	return newArena(a.value())
}
