package state

// journalEntry remembers what a key held before a write, so a revert can
// restore it. existed distinguishes "was absent" from "held empty bytes".
type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// Snapshot returns a revision that RevertToSnapshot can later roll the
// journal back to. Snapshots nest naturally: reverting an outer revision
// discards every inner one.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every write made since the given revision, newest
// first. Reverting to a stale revision after a deeper revert is a
// programming error and panics.
func (m *Manager) RevertToSnapshot(rev int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rev < 0 || rev > len(m.journal) {
		panic("state: revert to invalid snapshot revision")
	}
	for i := len(m.journal) - 1; i >= rev; i-- {
		e := m.journal[i]
		if e.existed {
			if err := m.db.Put(e.key, e.prev); err != nil {
				panic("state: journal revert put: " + err.Error())
			}
		} else {
			if err := m.db.Delete(e.key); err != nil {
				panic("state: journal revert delete: " + err.Error())
			}
		}
	}
	m.journal = m.journal[:rev]
}

// DiscardJournal drops undo history once a block is final. Writes stay in
// the database; they just can no longer be reverted.
func (m *Manager) DiscardJournal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = m.journal[:0]
}
