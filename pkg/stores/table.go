package stores

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is implemented by pointers to every stored type.
type Record[T any] interface {
	*T
	GetID() int64
	SetID(id int64)
	Clone() *T
}

// table is the committed content of one kind.
type table[T any, P Record[T]] struct {
	kind Kind
	rows map[int64]P
	seq  int64
}

func newTable[T any, P Record[T]](kind Kind) *table[T, P] {
	return &table[T, P]{kind: kind, rows: make(map[int64]P)}
}

func (t *table[T, P]) load(id int64, data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode %s %d: %w", t.kind, id, err)
	}
	p := P(&v)
	p.SetID(id)
	t.rows[id] = p
	if id > t.seq {
		t.seq = id
	}
	return nil
}

// View is the transactional access to one kind: reads see committed rows overlaid
// with the transaction's own writes. Returned records are copies; modify and Put
// them back to write.
type View[T any, P Record[T]] struct {
	base     *table[T, P]
	readOnly bool
	written  map[int64]P
	created  map[int64]bool
	deleted  map[int64]bool
	seq      int64
}

func newView[T any, P Record[T]](base *table[T, P], readOnly bool) *View[T, P] {
	return &View[T, P]{
		base:     base,
		readOnly: readOnly,
		written:  make(map[int64]P),
		created:  make(map[int64]bool),
		deleted:  make(map[int64]bool),
		seq:      base.seq,
	}
}

func (v *View[T, P]) mustWrite() {
	if v.readOnly {
		panic(fmt.Sprintf("write to %s in a read-only transaction", v.base.kind))
	}
}

func (v *View[T, P]) lookup(id int64) (P, bool) {
	if v.deleted[id] {
		return nil, false
	}
	if p, ok := v.written[id]; ok {
		return p, true
	}
	p, ok := v.base.rows[id]
	return p, ok
}

// Get returns a copy of the record.
func (v *View[T, P]) Get(id int64) (P, bool) {
	p, ok := v.lookup(id)
	if !ok {
		return nil, false
	}
	return P(p.Clone()), true
}

// Has reports whether the record exists.
func (v *View[T, P]) Has(id int64) bool {
	_, ok := v.lookup(id)
	return ok
}

// each calls fn for every live record in ID order until fn returns false.
func (v *View[T, P]) each(fn func(P) bool) {
	ids := make([]int64, 0, len(v.base.rows)+len(v.written))
	for id := range v.base.rows {
		if _, ok := v.written[id]; !ok && !v.deleted[id] {
			ids = append(ids, id)
		}
	}
	for id := range v.written {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p, _ := v.lookup(id)
		if !fn(p) {
			return
		}
	}
}

// Find returns copies of the records matching pred in ID order. pred must not
// modify its argument.
func (v *View[T, P]) Find(pred func(P) bool) []P {
	var out []P
	v.each(func(p P) bool {
		if pred == nil || pred(p) {
			out = append(out, P(p.Clone()))
		}
		return true
	})
	return out
}

// First returns a copy of the first record matching pred.
func (v *View[T, P]) First(pred func(P) bool) (P, bool) {
	var found P
	ok := false
	v.each(func(p P) bool {
		if pred(p) {
			found, ok = P(p.Clone()), true
			return false
		}
		return true
	})
	return found, ok
}

// Count returns the number of records matching pred.
func (v *View[T, P]) Count(pred func(P) bool) int {
	n := 0
	v.each(func(p P) bool {
		if pred == nil || pred(p) {
			n++
		}
		return true
	})
	return n
}

// All returns copies of every record in ID order.
func (v *View[T, P]) All() []P {
	return v.Find(nil)
}

// Insert assigns the next ID to p and stores it.
func (v *View[T, P]) Insert(p P) int64 {
	v.mustWrite()
	v.seq++
	p.SetID(v.seq)
	stored := P(p.Clone())
	v.written[v.seq] = stored
	v.created[v.seq] = true
	return v.seq
}

// Put stores an existing record.
func (v *View[T, P]) Put(p P) {
	v.mustWrite()
	id := p.GetID()
	if _, ok := v.lookup(id); !ok {
		panic(fmt.Sprintf("put of unknown %s %d", v.base.kind, id))
	}
	v.written[id] = P(p.Clone())
}

// Delete removes a record and reports whether it existed.
func (v *View[T, P]) Delete(id int64) bool {
	v.mustWrite()
	if _, ok := v.lookup(id); !ok {
		return false
	}
	delete(v.written, id)
	if v.created[id] {
		delete(v.created, id)
		return true
	}
	v.deleted[id] = true
	return true
}

// DeleteWhere removes every record matching pred and returns their IDs.
func (v *View[T, P]) DeleteWhere(pred func(P) bool) []int64 {
	var ids []int64
	v.each(func(p P) bool {
		if pred(p) {
			ids = append(ids, p.GetID())
		}
		return true
	})
	for _, id := range ids {
		v.Delete(id)
	}
	return ids
}

// changeSet is the type-erased part of a view used at commit time.
type changeSet interface {
	kind() Kind
	dirty() bool
	touched() []Change
	encode() ([]Change, error)
	sequence() int64
	merge()
}

func (v *View[T, P]) kind() Kind { return v.base.kind }

func (v *View[T, P]) dirty() bool {
	return len(v.written) > 0 || len(v.deleted) > 0
}

func (v *View[T, P]) sequence() int64 { return v.seq }

func (v *View[T, P]) touched() []Change {
	changes := make([]Change, 0, len(v.written)+len(v.deleted))
	for id := range v.written {
		op := OpUpdate
		if v.created[id] {
			op = OpCreate
		}
		changes = append(changes, Change{Kind: v.base.kind, ID: id, Op: op})
	}
	for id := range v.deleted {
		changes = append(changes, Change{Kind: v.base.kind, ID: id, Op: OpDelete})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}

func (v *View[T, P]) encode() ([]Change, error) {
	changes := v.touched()
	for i := range changes {
		if changes[i].Op == OpDelete {
			continue
		}
		data, err := json.Marshal(v.written[changes[i].ID])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %d: %w", v.base.kind, changes[i].ID, err)
		}
		changes[i].Data = data
	}
	return changes, nil
}

func (v *View[T, P]) merge() {
	for id, p := range v.written {
		v.base.rows[id] = p
	}
	for id := range v.deleted {
		delete(v.base.rows, id)
	}
	if v.seq > v.base.seq {
		v.base.seq = v.seq
	}
}
