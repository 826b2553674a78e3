package replay

import (
	"sort"
	"sync"
)

// IDMap remaps remote row ids to the ids the same rows received in the
// origin. It lives for one sync session.
//
// A slot is unset, mapped to a local id, or skipped. Once a slot is set it
// is never changed within the session.
type IDMap struct {
	mu    sync.Mutex
	slots map[string]map[int64]*int64
}

// NewIDMap returns an empty map.
func NewIDMap() *IDMap {
	return &IDMap{slots: make(map[string]map[int64]*int64)}
}

// Get returns the slot for remote in table. set is false for an unset
// slot; skipped is true for a skipped one.
func (m *IDMap) Get(table string, remote int64) (local int64, set, skipped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[table][remote]
	if !ok {
		return 0, false, false
	}
	if slot == nil {
		return 0, true, true
	}
	return *slot, true, false
}

// Resolve returns the local id for remote, which is remote itself when
// the slot is unset. skipped reports a skipped slot.
func (m *IDMap) Resolve(table string, remote int64) (local int64, skipped bool) {
	local, set, skipped := m.Get(table, remote)
	if !set {
		return remote, false
	}
	return local, skipped
}

// Set maps remote to local. It returns false, leaving the map unchanged,
// when the slot is already set.
func (m *IDMap) Set(table string, remote, local int64) bool {
	return m.put(table, remote, &local)
}

// Skip marks remote as skipped so every row referencing it is skipped
// too. It returns false when the slot is already set.
func (m *IDMap) Skip(table string, remote int64) bool {
	return m.put(table, remote, nil)
}

func (m *IDMap) put(table string, remote int64, local *int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.slots[table]
	if !ok {
		t = make(map[int64]*int64)
		m.slots[table] = t
	}
	if _, set := t[remote]; set {
		return false
	}
	t[remote] = local
	return true
}

// Entry is one slot, for reporting.
type Entry struct {
	Table  string `json:"table" yaml:"table"`
	Remote int64  `json:"remote" yaml:"remote"`
	// Local is nil for a skipped slot.
	Local *int64 `json:"local" yaml:"local"`
}

// Entries returns every set slot ordered by table then remote id.
func (m *IDMap) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for table, slots := range m.slots {
		for remote, local := range slots {
			e := Entry{Table: table, Remote: remote}
			if local != nil {
				v := *local
				e.Local = &v
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Remote < out[j].Remote
	})
	return out
}
