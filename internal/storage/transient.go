package storage

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bonalyze/offer-sync/internal/retry"
)

// IsTransient reports store failures worth retrying: a busy or locked SQLite
// file, Postgres connection, serialization and capacity errors, and network
// errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case strings.HasPrefix(pe.Code, "08"): // connection exception
			return true
		case pe.Code == "40001", pe.Code == "40P01": // serialization failure, deadlock
			return true
		case pe.Code == "57P01", pe.Code == "53300": // admin shutdown, too many connections
			return true
		}
		return false
	}

	return retry.IsNetwork(err) || pgconn.SafeToRetry(err)
}
