package mesh

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Register is one last-writer-wins field of a Doc.
type Register struct {
	Value json.RawMessage `json:"value"`
	Clock uint64          `json:"clock"`
	Peer  string          `json:"peer"`
}

// wins reports whether r beats other. Higher Lamport clock wins; equal
// clocks fall back to the peer id so every replica picks the same value.
func (r Register) wins(other Register) bool {
	if r.Clock != other.Clock {
		return r.Clock > other.Clock
	}

	return r.Peer > other.Peer
}

// Entry is one element of the append-only log. (Peer, Seq) identifies it.
type Entry struct {
	Peer  string          `json:"peer"`
	Seq   uint64          `json:"seq"`
	Clock uint64          `json:"clock"`
	Data  json.RawMessage `json:"data"`
}

type entryKey struct {
	peer string
	seq  uint64
}

func (e Entry) key() entryKey {
	return entryKey{peer: e.Peer, seq: e.Seq}
}

func compareEntries(a, b Entry) int {
	return cmp.Or(
		cmp.Compare(a.Clock, b.Clock),
		cmp.Compare(a.Peer, b.Peer),
		cmp.Compare(a.Seq, b.Seq),
	)
}

// Update is a set of registers and entries. It is both the delta of a local
// change and a full snapshot.
type Update struct {
	Registers map[string]Register `json:"registers,omitempty"`
	Entries   []Entry             `json:"entries,omitempty"`
}

func (u Update) Empty() bool {
	return len(u.Registers) == 0 && len(u.Entries) == 0
}

// Changes lists what a merge altered locally.
type Changes struct {
	Keys     []string
	Appended []Entry
}

func (c Changes) Empty() bool {
	return len(c.Keys) == 0 && len(c.Appended) == 0
}

// Doc is a replicated map of LWW registers plus a bounded append-only log.
// Merge is commutative, associative and idempotent, so replicas converge
// regardless of delivery order or duplication.
type Doc struct {
	mu        sync.RWMutex
	peer      string
	clock     uint64
	seq       uint64
	limit     int
	registers map[string]Register
	entries   []Entry
	seen      map[entryKey]struct{}
}

// NewDoc returns an empty replica owned by peer. The log keeps the limit
// most recent entries; a non-positive limit keeps everything.
func NewDoc(peer string, limit int) *Doc {
	return &Doc{
		peer:      peer,
		limit:     limit,
		registers: make(map[string]Register),
		seen:      make(map[entryKey]struct{}),
	}
}

func (d *Doc) Set(key string, value any) (Update, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Update{}, fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	r := Register{Value: data, Clock: d.clock, Peer: d.peer}
	d.registers[key] = r

	return Update{Registers: map[string]Register{key: r}}, nil
}

// Get decodes the register at key into v. It reports false when the key
// was never written.
func (d *Doc) Get(key string, v any) (bool, error) {
	d.mu.RLock()
	r, ok := d.registers[key]
	d.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(r.Value, v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return true, nil
}

func (d *Doc) Append(value any) (Update, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Update{}, fmt.Errorf("failed to marshal entry: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	d.seq++
	e := Entry{Peer: d.peer, Seq: d.seq, Clock: d.clock, Data: data}
	d.insert(e)

	return Update{Entries: []Entry{e}}, nil
}

func (d *Doc) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Clone(d.entries)
}

func (d *Doc) Snapshot() Update {
	d.mu.RLock()
	defer d.mu.RUnlock()

	registers := make(map[string]Register, len(d.registers))
	for k, r := range d.registers {
		registers[k] = r
	}

	return Update{
		Registers: registers,
		Entries:   slices.Clone(d.entries),
	}
}

func (d *Doc) Merge(u Update) Changes {
	d.mu.Lock()
	defer d.mu.Unlock()

	var changes Changes

	for key, incoming := range u.Registers {
		d.observe(incoming.Clock)

		cur, ok := d.registers[key]
		if ok && !incoming.wins(cur) {
			continue
		}
		d.registers[key] = incoming
		changes.Keys = append(changes.Keys, key)
	}
	slices.Sort(changes.Keys)

	for _, e := range u.Entries {
		d.observe(e.Clock)
		if d.insert(e) {
			changes.Appended = append(changes.Appended, e)
		}
	}
	slices.SortFunc(changes.Appended, compareEntries)

	return changes
}

// observe advances the Lamport clock past a remote timestamp.
func (d *Doc) observe(clock uint64) {
	if clock > d.clock {
		d.clock = clock
	}
}

// insert adds e in log order and reports whether it was new. When the log
// is full, entries older than everything retained are dropped since they
// would be evicted right away.
func (d *Doc) insert(e Entry) bool {
	if _, ok := d.seen[e.key()]; ok {
		return false
	}

	full := d.limit > 0 && len(d.entries) >= d.limit
	if full && compareEntries(e, d.entries[0]) < 0 {
		return false
	}

	i, _ := slices.BinarySearchFunc(d.entries, e, compareEntries)
	d.entries = slices.Insert(d.entries, i, e)
	d.seen[e.key()] = struct{}{}

	if d.limit > 0 && len(d.entries) > d.limit {
		evicted := d.entries[:len(d.entries)-d.limit]
		for _, old := range evicted {
			delete(d.seen, old.key())
		}
		d.entries = slices.Clone(d.entries[len(d.entries)-d.limit:])
	}

	return true
}
