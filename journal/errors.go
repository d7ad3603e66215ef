package journal

import (
	"errors"
	"fmt"

	"github.com/fieldstonedb/fieldstone/row"
)

// ErrorKind partitions journal failures into the two recoverable classes.
// Anything else that goes wrong inside a journal operation is a
// programming error and panics.
type ErrorKind int

const (
	// KindScope marks operations on tables the enclosing transaction did
	// not declare.
	KindScope ErrorKind = iota + 1
	// KindConstraint marks primary key violations.
	KindConstraint
)

// ErrTableOutOfScope is returned when an operation names a table outside
// the journal's scope.
type ErrTableOutOfScope struct {
	Table string
}

func (e ErrTableOutOfScope) Error() string {
	return fmt.Sprintf("table %s is out of scope for this journal", e.Table)
}

func (ErrTableOutOfScope) Kind() ErrorKind { return KindScope }

// ErrDuplicateKeys is returned when an insert batch carries two rows with
// the same primary key.
type ErrDuplicateKeys struct {
	Table string
	Key   row.Key
}

func (e ErrDuplicateKeys) Error() string {
	return fmt.Sprintf("duplicate primary key %s in insert batch for table %s", e.Key, e.Table)
}

func (ErrDuplicateKeys) Kind() ErrorKind { return KindConstraint }

// ErrPrimaryKeyExists is returned when a row's primary key is already
// taken in the transactional view.
type ErrPrimaryKeyExists struct {
	Table string
	Key   row.Key
}

func (e ErrPrimaryKeyExists) Error() string {
	return fmt.Sprintf("a row with primary key %s already exists in table %s", e.Key, e.Table)
}

func (ErrPrimaryKeyExists) Kind() ErrorKind { return KindConstraint }

// ErrPrimaryKeyReassigned is returned when more than one row of a single
// update call changes its primary key. The query surface only permits
// literal updates, so two rows landing on new keys is a violation by
// definition.
type ErrPrimaryKeyReassigned struct {
	Table string
}

func (e ErrPrimaryKeyReassigned) Error() string {
	return fmt.Sprintf("multiple rows of table %s reassign their primary keys in one update", e.Table)
}

func (ErrPrimaryKeyReassigned) Kind() ErrorKind { return KindConstraint }

// KindOf extracts the ErrorKind of err, or 0 for foreign errors.
func KindOf(err error) ErrorKind {
	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return 0
}
