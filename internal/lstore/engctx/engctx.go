// Package engctx carries the ambient logging and correlation-id plumbing
// threaded through Database/Table/BufferPool/MergeJob construction (spec
// SPEC_FULL.md §2.1/§3). Grounded on the teacher's pervasive *log.Logger*
// use throughout internal/storage and internal/storage/uuid_helpers.go's
// session-id pattern.
package engctx

import (
	"log"
	"os"

	"github.com/google/uuid"
)

// Context bundles a logger and a session correlation id. The zero value is
// not usable — construct with New.
type Context struct {
	Logger    *log.Logger
	SessionID uuid.UUID
}

// New creates a Context with a fresh session id. A nil logger defaults to a
// logger writing to stderr with the engine's own prefix, matching the
// teacher's `log.New(os.Stderr, "...: ", log.LstdFlags)` construction style.
func New(logger *log.Logger) *Context {
	if logger == nil {
		logger = log.New(os.Stderr, "lstore: ", log.LstdFlags)
	}
	return &Context{
		Logger:    logger,
		SessionID: uuid.New(),
	}
}

// Printf logs through the wrapped logger, tagging the line with the
// session id for cross-request correlation in shared log output.
func (c *Context) Printf(format string, args ...any) {
	c.Logger.Printf("[%s] "+format, append([]any{c.SessionID}, args...)...)
}
