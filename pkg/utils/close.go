// Package utils contains some common utilities used by all other packages.
package utils

import (
	"log/slog"
)

// Closer is an interface for types that have a Close() method.
// This is compatible with io.Closer, *sql.DB and the closers returned
// by the topology package.
type Closer interface {
	Close() error
}

// CloseAndLog closes a resource and logs any error. This is useful for defer
// statements where the error cannot be meaningfully handled except by logging.
// Example: defer utils.CloseAndLog(db)
func CloseAndLog(closer Closer) {
	if closer == nil {
		return
	}
	ErrInErr(closer.Close())
}

// ErrInErr is called when an error occurs while already handling an error,
// for example closing a connection that failed to ping.
func ErrInErr(err error) {
	if err != nil {
		slog.Error("error while handling error", "error", err)
	}
}
