package errtranslator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrDuplicatedKey occurs when there is a unique key constraint violation
	ErrDuplicatedKey = errors.New("duplicated key not allowed")
	// ErrForeignKeyViolated occurs when there is a foreign key constraint violation
	ErrForeignKeyViolated = errors.New("violates foreign key constraint")
	// ErrTableNotFound occurs when the statement references a missing table
	ErrTableNotFound = errors.New("table not found")
)

// ErrTranslator converts a driver error into one of the typed errors of this package,
// returning err unchanged when it is not recognised.
type ErrTranslator interface {
	Translate(err error) error
}

// UniqueConstraintError carries the offending fields (physical column -> value) of a unique violation
type UniqueConstraintError struct {
	Code       interface{}
	Constraint string
	Fields     map[string]string
	Message    string
	Err        error
}

func (e *UniqueConstraintError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s, code: %v, message: %s", ErrDuplicatedKey, e.Code, e.Message)
	}
	return fmt.Sprintf("%s, code: %v, fields: %s", ErrDuplicatedKey, e.Code, strings.Join(e.FieldNames(), ", "))
}

func (e *UniqueConstraintError) Is(target error) bool { return target == ErrDuplicatedKey }

func (e *UniqueConstraintError) Unwrap() error { return e.Err }

// FieldNames returns the offending column names sorted
func (e *UniqueConstraintError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForeignKeyConstraintError reports a foreign key violation
type ForeignKeyConstraintError struct {
	Code       interface{}
	Constraint string
	Table      string
	Fields     []string
	Message    string
	Err        error
}

func (e *ForeignKeyConstraintError) Error() string {
	return fmt.Sprintf("%s, code: %v, message: %s", ErrForeignKeyViolated, e.Code, e.Message)
}

func (e *ForeignKeyConstraintError) Is(target error) bool { return target == ErrForeignKeyViolated }

func (e *ForeignKeyConstraintError) Unwrap() error { return e.Err }

// UniqueKeys maps a unique constraint name to its ordered physical columns. Dialects
// that only report the constraint name use it to recover the offending fields.
type UniqueKeys map[string][]string

func (keys UniqueKeys) fields(constraint string, values []string) map[string]string {
	columns, ok := keys[constraint]
	if !ok {
		if idx := strings.LastIndexByte(constraint, '.'); idx >= 0 {
			columns, ok = keys[constraint[idx+1:]]
		}
	}

	fields := map[string]string{}
	if !ok || len(columns) != len(values) {
		fields[constraint] = strings.Join(values, "-")
		return fields
	}
	for idx, column := range columns {
		fields[column] = values[idx]
	}
	return fields
}

var postgresKeyRe = regexp.MustCompile(`Key \((.*?)\)=\((.*?)\)`)

// parsePostgresDetail reads `Key (a, b)=(1, 2) already exists.`
func parsePostgresDetail(detail string) map[string]string {
	matches := postgresKeyRe.FindStringSubmatch(detail)
	if len(matches) != 3 {
		return nil
	}

	names := strings.Split(matches[1], ", ")
	values := strings.Split(matches[2], ", ")
	fields := make(map[string]string, len(names))
	for idx, name := range names {
		if idx < len(values) {
			fields[strings.Trim(name, `"`)] = values[idx]
		} else {
			fields[strings.Trim(name, `"`)] = ""
		}
	}
	return fields
}

// Chain tries translators in order and returns the first translation that changed err
type Chain []ErrTranslator

func (c Chain) Translate(err error) error {
	if err == nil {
		return nil
	}
	for _, t := range c {
		if translated := t.Translate(err); translated != err {
			return translated
		}
	}
	return err
}
