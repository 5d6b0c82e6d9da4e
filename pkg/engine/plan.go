package engine

import "errors"

var ErrClosed = errors.New("engine closed")

// State is what an engine knows about one id before a write.
type State struct {
	Rev     string
	Deleted bool
}

// Write is the decision for one document: the id and revision to commit.
type Write struct {
	ID      string
	Rev     string
	Deleted bool
	Action  Action
}

// Plan applies the revision rules to doc written over current, which is
// nil for an id the engine has never seen.
func Plan(current *State, doc Doc) (Write, *Error) {
	id, rev, deleting := doc.ID(), doc.Rev(), doc.Deleted()

	if id == "" {
		if deleting {
			return Write{}, NotFound(ReasonMissing)
		}
		return Write{ID: NewID(), Rev: NewRev(1), Action: CreateAction}, nil
	}

	if current == nil {
		switch {
		case deleting:
			return Write{}, NotFound(ReasonMissing)
		case rev != "":
			return Write{}, Conflict()
		}
		return Write{ID: id, Rev: NewRev(1), Action: CreateAction}, nil
	}

	next := NewRev(Generation(current.Rev) + 1)

	if deleting {
		switch {
		case current.Deleted:
			return Write{}, NotFound(ReasonDeleted)
		case rev != current.Rev:
			return Write{}, Conflict()
		}
		return Write{ID: id, Rev: next, Deleted: true, Action: DeleteAction}, nil
	}

	if rev == "" {
		if !current.Deleted {
			return Write{}, Conflict()
		}
		return Write{ID: id, Rev: next, Action: CreateAction}, nil
	}
	if rev != current.Rev {
		return Write{}, Conflict()
	}
	if current.Deleted {
		return Write{ID: id, Rev: next, Action: CreateAction}, nil
	}
	return Write{ID: id, Rev: next, Action: UpdateAction}, nil
}

// Tombstone is the document Remove writes through Plan.
func Tombstone(id, rev string) Doc {
	return Doc{FieldID: id, FieldRev: rev, FieldDeleted: true}
}
