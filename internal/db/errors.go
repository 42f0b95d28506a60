package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Custom database errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ConstraintError is a unique or primary key violation on a playout table
type ConstraintError struct {
	Table   string
	Columns []string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("duplicate %s(%s)", e.Table, strings.Join(e.Columns, ", "))
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

// Is matches ErrDuplicate
func (e *ConstraintError) Is(target error) bool {
	return target == ErrDuplicate
}

// IsDuplicate checks if error is a duplicate error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsDuplicateOn reports whether err is a duplicate on the given table
func IsDuplicateOn(err error, table string) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Table == table
}

// MapGormError maps GORM and SQLite errors to domain errors
func MapGormError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) &&
		(sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return parseConstraint(sqlErr)
	}
	return err
}

// parseConstraint reads "UNIQUE constraint failed: table.col1, table.col2"
func parseConstraint(err sqlite3.Error) *ConstraintError {
	ce := &ConstraintError{Cause: err}
	_, cols, ok := strings.Cut(err.Error(), "failed: ")
	if !ok {
		return ce
	}
	for _, col := range strings.Split(cols, ",") {
		table, name, ok := strings.Cut(strings.TrimSpace(col), ".")
		if !ok {
			continue
		}
		ce.Table = table
		ce.Columns = append(ce.Columns, name)
	}
	return ce
}
