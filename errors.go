package quarry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/quarry/internal/config"
	"github.com/jward/quarry/internal/sidecar"
	"github.com/jward/quarry/internal/store"
)

// ErrorKind classifies engine failures for callers that map them onto
// exit codes or RPC envelopes.
type ErrorKind int

const (
	// IOError is a filesystem read or write failure outside the store.
	IOError ErrorKind = iota + 1
	// ParseError is a fatal grammar failure; recoverable parse trees are
	// not errors.
	ParseError
	// ExtractionError is a query execution failure on a tree.
	ExtractionError
	// StorageError is a store operation rejected after retries.
	StorageError
	// SchemaError is a database newer than this binary, or corrupt.
	SchemaError
	// ContentionError is a writer that could not acquire the write path
	// within policy.
	ContentionError
	// TimeoutError is a query or run that exceeded its deadline.
	TimeoutError
	// ConfigError is a malformed sidecar, tag rule, or config file.
	ConfigError
)

func (k ErrorKind) String() string {
	switch k {
	case IOError:
		return "io"
	case ParseError:
		return "parse"
	case ExtractionError:
		return "extraction"
	case StorageError:
		return "storage"
	case SchemaError:
		return "schema"
	case ContentionError:
		return "contention"
	case TimeoutError:
		return "timeout"
	case ConfigError:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr classifies err into a typed Error. Already-typed errors pass
// through so the innermost classification wins.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, store.ErrSchemaTooNew):
		return SchemaError
	case errors.Is(err, store.ErrContention):
		return ContentionError
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError
	case errors.Is(err, sidecar.ErrInvalid), errors.Is(err, config.ErrInvalid):
		return ConfigError
	default:
		return StorageError
	}
}
