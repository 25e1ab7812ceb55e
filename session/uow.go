package session

import "github.com/blazeorm/blaze/schema"

// UnitOfWork tracks pending changes in three insertion-ordered sets. A
// record is in at most one conceptual state at a time; registering a
// delete wins over any other pending state. Not self-locking: the
// session serializes access.
type UnitOfWork struct {
	added   []*schema.Record
	dirty   []*schema.Record
	deleted []*schema.Record

	inAdded   map[*schema.Record]bool
	inDirty   map[*schema.Record]bool
	inDeleted map[*schema.Record]bool
}

// NewUnitOfWork returns an empty unit of work.
func NewUnitOfWork() *UnitOfWork {
	u := &UnitOfWork{}
	u.resetSets()
	return u
}

func (u *UnitOfWork) resetSets() {
	u.added, u.dirty, u.deleted = nil, nil, nil
	u.inAdded = make(map[*schema.Record]bool)
	u.inDirty = make(map[*schema.Record]bool)
	u.inDeleted = make(map[*schema.Record]bool)
}

// RegisterNew schedules an insert.
func (u *UnitOfWork) RegisterNew(rec *schema.Record) {
	if u.inAdded[rec] || u.inDeleted[rec] {
		return
	}
	u.inAdded[rec] = true
	u.added = append(u.added, rec)
}

// RegisterDirty schedules an update. No-op for records pending insert
// or delete.
func (u *UnitOfWork) RegisterDirty(rec *schema.Record) {
	if u.inAdded[rec] || u.inDirty[rec] || u.inDeleted[rec] {
		return
	}
	u.inDirty[rec] = true
	u.dirty = append(u.dirty, rec)
}

// RegisterDeleted schedules a delete, withdrawing any pending insert or
// update for the same instance.
func (u *UnitOfWork) RegisterDeleted(rec *schema.Record) {
	if u.inDeleted[rec] {
		return
	}
	if u.inAdded[rec] {
		delete(u.inAdded, rec)
		u.added = without(u.added, rec)
	}
	if u.inDirty[rec] {
		delete(u.inDirty, rec)
		u.dirty = without(u.dirty, rec)
	}
	u.inDeleted[rec] = true
	u.deleted = append(u.deleted, rec)
}

// CollectDirty promotes identity-map candidates whose values drifted
// from their snapshot into the dirty set.
func (u *UnitOfWork) CollectDirty(candidates []*schema.Record) {
	for _, rec := range candidates {
		if rec.IsDirty() {
			u.RegisterDirty(rec)
		}
	}
}

// Added returns the pending inserts in registration order.
func (u *UnitOfWork) Added() []*schema.Record { return append([]*schema.Record(nil), u.added...) }

// Dirty returns the pending updates in registration order.
func (u *UnitOfWork) Dirty() []*schema.Record { return append([]*schema.Record(nil), u.dirty...) }

// Deleted returns the pending deletes in registration order.
func (u *UnitOfWork) Deleted() []*schema.Record { return append([]*schema.Record(nil), u.deleted...) }

// Clear empties all three sets; called after a root-level commit.
func (u *UnitOfWork) Clear() { u.resetSets() }

// uowSnapshot captures the three sets so a rolled-back nested frame can
// restore the enclosing frame's pending state.
type uowSnapshot struct {
	added   []*schema.Record
	dirty   []*schema.Record
	deleted []*schema.Record
}

func (u *UnitOfWork) snapshot() uowSnapshot {
	return uowSnapshot{
		added:   append([]*schema.Record(nil), u.added...),
		dirty:   append([]*schema.Record(nil), u.dirty...),
		deleted: append([]*schema.Record(nil), u.deleted...),
	}
}

func (u *UnitOfWork) restore(snap uowSnapshot) {
	u.resetSets()
	for _, rec := range snap.added {
		u.RegisterNew(rec)
	}
	for _, rec := range snap.dirty {
		u.RegisterDirty(rec)
	}
	for _, rec := range snap.deleted {
		u.RegisterDeleted(rec)
	}
}

func without(set []*schema.Record, rec *schema.Record) []*schema.Record {
	for i, r := range set {
		if r == rec {
			return append(set[:i], set[i+1:]...)
		}
	}
	return set
}
