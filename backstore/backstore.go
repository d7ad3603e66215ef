package backstore

import (
	"github.com/fieldstonedb/fieldstone/journal"
	"github.com/fieldstonedb/fieldstone/row"
)

// BackStore persists the diff map a committed journal produced. The
// journal never touches it; the enclosing transaction hands over
// Journal.Diff after Commit. Durability guarantees belong entirely to the
// implementation.
type BackStore interface {
	// Apply persists one committed diff map atomically.
	Apply(diffs map[string]*journal.TableDiff) error

	// Rows returns every persisted row of table in row id order.
	Rows(table string) ([]row.Row, error)

	// RowByID returns the persisted row, or nil when absent.
	RowByID(table string, id row.ID) (row.Row, error)

	// Close releases the store's resources.
	Close() error
}
