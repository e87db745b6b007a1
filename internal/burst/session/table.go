package session

import "sync"

// Table maps client identities to their in-progress records. Removal goes
// through CompareAndRemove or Drain so that exactly one caller observes the
// end of each record.
type Table struct {
	mu      sync.Mutex
	records map[ClientIdentity]*Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[ClientIdentity]*Record)}
}

// Get returns the record for id, if any.
func (t *Table) Get(id ClientIdentity) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	return rec, ok
}

// GetOrCreate returns the existing record for id, or inserts the one built
// by create. create runs under the table lock and must not call back into
// the table. A create error leaves the table unchanged.
func (t *Table) GetOrCreate(id ClientIdentity, create func() (*Record, error)) (*Record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[id]; ok {
		return rec, false, nil
	}

	rec, err := create()
	if err != nil {
		return nil, false, err
	}
	t.records[id] = rec
	return rec, true, nil
}

// CompareAndRemove deletes id only while it still maps to rec. It returns
// true for the single caller that performed the removal.
func (t *Table) CompareAndRemove(id ClientIdentity, rec *Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.records[id]; ok && cur == rec {
		delete(t.records, id)
		return true
	}
	return false
}

// Contains reports whether id still maps to rec.
func (t *Table) Contains(id ClientIdentity, rec *Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.records[id]
	return ok && cur == rec
}

// Drain removes and returns every record.
func (t *Table) Drain() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.records = make(map[ClientIdentity]*Record)
	return out
}

// Records returns the current records without removing them.
func (t *Table) Records() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
