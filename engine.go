// Package fieldstone wires the shared structures of an in-memory
// relational engine: schema, row cache, index store and backing store.
// Queries and transaction scheduling live above this package; it owns the
// journal lifecycle and the commit handover to the backstore.
package fieldstone

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldstonedb/fieldstone/backstore"
	"github.com/fieldstonedb/fieldstone/cache"
	"github.com/fieldstonedb/fieldstone/cfg"
	"github.com/fieldstonedb/fieldstone/index"
	"github.com/fieldstonedb/fieldstone/journal"
	"github.com/fieldstonedb/fieldstone/row"
	"github.com/fieldstonedb/fieldstone/schema"
	"github.com/fieldstonedb/fieldstone/telemetry"
)

// Engine holds one database's in-memory state and its backstore.
type Engine struct {
	schema  *schema.Database
	cache   cache.RowCache
	indexes index.Store
	store   backstore.BackStore
}

// Open builds the in-memory structures for db over store and hydrates
// them with the rows the store already holds. Tuning comes from the
// active configuration.
func Open(db *schema.Database, store backstore.BackStore) (*Engine, error) {
	if cfg.Config.Telemetry.Enable {
		telemetry.InitTelemetry()
		go telemetry.Serve(cfg.Config.Telemetry.Bind)
	}

	e := &Engine{
		schema:  db,
		cache:   cache.NewMemRowCache(),
		indexes: index.NewMemStore(db, cfg.Config.Engine.BTreeDegree),
		store:   store,
	}

	if err := e.hydrate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("database", db.Name()).
		Uint64("schema_version", db.Version()).
		Int("rows", e.cache.CountAll()).
		Msg("Engine opened")
	return e, nil
}

// SetupLogging configures the global zerolog logger from the active
// configuration.
func SetupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).With().Timestamp().Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// NewJournal creates a journal scoped to the named tables. The caller is
// the transaction scheduler; it must not run two journals with
// overlapping scopes concurrently.
func (e *Engine) NewJournal(tables ...string) (*journal.Journal, error) {
	scope := make([]*schema.Table, 0, len(tables))
	for _, name := range tables {
		tbl := e.schema.Table(name)
		if tbl == nil {
			return nil, fmt.Errorf("unknown table %s in database %s", name, e.schema.Name())
		}
		scope = append(scope, tbl)
	}
	return journal.New(scope, e.cache, e.indexes), nil
}

// Commit seals the journal and persists its diff map to the backstore.
func (e *Engine) Commit(j *journal.Journal) error {
	j.Commit()
	if err := e.store.Apply(j.Diff()); err != nil {
		return fmt.Errorf("failed to persist committed diffs: %w", err)
	}
	return nil
}

// Rollback undoes the journal's effects on the in-memory state.
func (e *Engine) Rollback(j *journal.Journal) {
	j.Rollback()
}

// Rows returns the live rows of a table as seen by the in-memory state.
func (e *Engine) Rows(table string) []row.Row {
	return e.cache.Get(e.indexes.RowIDIndex(table).GetRange())
}

// Close releases the backstore.
func (e *Engine) Close() error {
	return e.store.Close()
}

// hydrate loads every persisted row into the cache and indices, restoring
// the in-memory state a previous process committed.
func (e *Engine) hydrate() error {
	for _, tbl := range e.schema.Tables() {
		rows, err := e.store.Rows(tbl.Name())
		if err != nil {
			return fmt.Errorf("failed to load rows of table %s: %w", tbl.Name(), err)
		}
		if len(rows) == 0 {
			continue
		}

		e.cache.Set(tbl.Name(), rows)

		rowIDs := e.indexes.RowIDIndex(tbl.Name())
		for _, r := range rows {
			rowIDs.Set(row.IntKey(r.ID()), r.ID())
			for _, is := range tbl.Indices() {
				idx, err := e.indexes.Index(is.Normalized())
				if err != nil {
					return err
				}
				idx.Set(r.Key(is.Normalized()), r.ID())
			}
		}

		log.Debug().Str("table", tbl.Name()).Int("rows", len(rows)).Msg("Hydrated table")
	}
	return nil
}
