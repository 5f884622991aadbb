package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
)

// ConstraintError is a SQLite constraint failure mapped to a readable message.
type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var (
	fkPattern     = regexp.MustCompile(`FOREIGN KEY constraint failed`)
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
)

// ClassifyError converts constraint failures into *ConstraintError and returns
// other errors unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if fkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "foreign_key",
			Cause:   ErrForeignKey,
			Message: "referenced record does not exist",
		}
	}

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		return newColumnError("unique", ErrUniqueViolation, matches[1], "already exists")
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		return newColumnError("not_null", ErrNotNull, matches[1], "is required")
	}

	return err
}

func newColumnError(kind string, cause error, qualified, what string) *ConstraintError {
	ce := &ConstraintError{Type: kind, Cause: cause, Message: "value " + what}
	if table, column, ok := strings.Cut(qualified, "."); ok {
		ce.Table = table
		ce.Column = column
		ce.Message = table + "." + column + " " + what
	}
	return ce
}

// IsUniqueError reports whether err is, or wraps, a unique constraint failure.
func IsUniqueError(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}
