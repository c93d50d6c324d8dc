package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/jackc/pgx/v5/pgconn"
)

// ObserveDB implements postgres.Observer. Misses and lost refresh-token
// races are normal outcomes, so they get their own status and are not
// counted as errors.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := dbStatus(err)
	if status == "error" {
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func dbStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, user.ErrNotFound):
		return "not_found"
	case errors.Is(err, user.ErrRefreshTokenConflict):
		return "conflict"
	default:
		return "error"
	}
}

var pgErrClasses = map[string]string{
	"23505": "unique_violation",
	"23514": "check_violation",
	"40001": "serialization_failure",
	"40P01": "deadlock",
	"57014": "query_canceled",
}

// classifyDBErr buckets an error for the errors_total "class" label.
func classifyDBErr(err error) string {
	var (
		pgErr   *pgconn.PgError
		connErr *pgconn.ConnectError
	)

	switch {
	case errors.As(err, &pgErr):
		if class, ok := pgErrClasses[pgErr.Code]; ok {
			return class
		}
		return "pg_" + pgErr.Code
	case errors.Is(err, user.ErrEmailTaken):
		return "unique_violation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	}

	// pool and dial errors that arrive unwrapped
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	}
	return "unknown"
}
