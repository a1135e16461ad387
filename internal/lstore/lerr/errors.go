// Package lerr defines the sentinel error values shared across the storage
// engine. Callers compare against these with errors.Is; wrap them with
// fmt.Errorf("...: %w", ...) for context the way the rest of the engine
// wraps I/O errors.
package lerr

import "errors"

var (
	// ErrKeyExists is returned by insert when the primary key already exists.
	ErrKeyExists = errors.New("lstore: key already exists")
	// ErrKeyMissing is returned by update/delete when the key has no live base record.
	ErrKeyMissing = errors.New("lstore: key missing")
	// ErrArity is returned when a caller supplies the wrong number of columns.
	ErrArity = errors.New("lstore: wrong column arity")
	// ErrOutOfRange is returned for an out-of-range column index (create_index, select).
	ErrOutOfRange = errors.New("lstore: column index out of range")
	// ErrOutOfBounds is returned by Page.Read for a cell index >= CellsPerPage.
	ErrOutOfBounds = errors.New("lstore: cell index out of bounds")
	// ErrIO wraps any underlying filesystem error surfaced to a caller.
	ErrIO = errors.New("lstore: I/O error")
	// ErrCorrupt is returned by Open/decode paths when on-disk data fails validation.
	ErrCorrupt = errors.New("lstore: corrupt on-disk data")
	// ErrCancelled is returned by any suspending operation whose context was cancelled.
	ErrCancelled = errors.New("lstore: operation cancelled")
	// ErrNameExists is returned by create_table when the table name is taken.
	ErrNameExists = errors.New("lstore: table name already exists")
	// ErrNoSuchDatabase is the distinguished "no such database" error. No
	// engine path returns it: database.Open creates a database that does
	// not exist yet.
	ErrNoSuchDatabase = errors.New("lstore: no such database")
	// ErrNoChange is returned by update when no column was supplied.
	ErrNoChange = errors.New("lstore: update touched no columns")

	// errCapacity is internal: a page is full on the non-aligned write path.
	// Callers must have allocated via get_open_*_page and never observe this.
	errCapacity = errors.New("lstore: page at capacity")
	// errRangeFull is internal: a page range has reached its base-page limit.
	// The table creates a new range and retries; callers never observe this.
	errRangeFull = errors.New("lstore: page range full")
)

// ErrCapacity reports whether err is the internal page-capacity condition.
func ErrCapacity(err error) bool { return errors.Is(err, errCapacity) }

// ErrRangeFull reports whether err is the internal range-full condition.
func ErrRangeFull(err error) bool { return errors.Is(err, errRangeFull) }

// Capacity returns the internal page-capacity sentinel error.
func Capacity() error { return errCapacity }

// RangeFull returns the internal range-full sentinel error.
func RangeFull() error { return errRangeFull }
