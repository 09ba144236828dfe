package errtranslator

import (
	"errors"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteUniqueRe = regexp.MustCompile(`UNIQUE constraint failed: ([^()]+)`)

type SqliteErrTranslator struct{}

func (s *SqliteErrTranslator) Translate(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	message, code := sqliteErr.Error(), sqliteErr.Code()
	constraint := code&0xff == sqlite3.SQLITE_CONSTRAINT
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		constraint && sqliteUniqueRe.MatchString(message):
		result := &UniqueConstraintError{Code: code, Message: message, Fields: map[string]string{}, Err: err}
		if matches := sqliteUniqueRe.FindStringSubmatch(message); len(matches) == 2 {
			for _, column := range strings.Split(strings.TrimSpace(matches[1]), ", ") {
				if idx := strings.LastIndexByte(column, '.'); idx >= 0 {
					column = column[idx+1:]
				}
				result.Fields[column] = ""
			}
		}
		return result
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, constraint && strings.Contains(message, "FOREIGN KEY"):
		return &ForeignKeyConstraintError{Code: code, Message: message, Err: err}
	}

	if strings.Contains(message, "no such table") {
		return errors.Join(ErrTableNotFound, err)
	}
	return err
}
