package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation = "23505"
	pgIntegrityClass  = "23"
)

// ClassifyError maps driver and GORM errors to an error kind.
// The second result is false when err carries nothing recognizable.
func ClassifyError(err error) (domain.ErrorKind, bool) {
	if err == nil {
		return domain.KindUnexpected, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, pgIntegrityClass) {
			return domain.KindDataIntegrity, true
		}
		return domain.KindDatabase, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == pgIntegrityClass {
			return domain.KindDataIntegrity, true
		}
		return domain.KindDatabase, true
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated),
		isSQLiteConstraint(err):
		return domain.KindDataIntegrity, true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, sql.ErrTxDone),
		errors.Is(err, gorm.ErrInvalidDB),
		errors.Is(err, gorm.ErrInvalidTransaction),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return domain.KindDatabase, true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.KindDatabase, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.KindDatabase, true
	}

	return domain.KindUnexpected, false
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// sqlite reports constraint failures only through the message text
func isSQLiteConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "NOT NULL constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}
