package errtranslator

import (
	"errors"
	"regexp"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
)

var mssqlErrCodes = map[string]int32{
	"uniqueConstraint":     2627,
	"uniqueIndex":          2601,
	"foreignKeyConstraint": 547,
	"tableNotFound":        208,
}

var (
	mssqlConstraintRe = regexp.MustCompile(`(?:constraint|index) '(.+?)'`)
	mssqlValueRe      = regexp.MustCompile(`duplicate key value is \((.*)\)`)
)

type MssqlErrTranslator struct {
	UniqueKeys UniqueKeys
}

func (m *MssqlErrTranslator) Translate(err error) error {
	var mssqlErr mssql.Error
	if !errors.As(err, &mssqlErr) {
		return err
	}

	var constraint string
	if matches := mssqlConstraintRe.FindStringSubmatch(mssqlErr.Message); len(matches) == 2 {
		constraint = matches[1]
	}

	switch mssqlErr.Number {
	case mssqlErrCodes["uniqueConstraint"], mssqlErrCodes["uniqueIndex"]:
		result := &UniqueConstraintError{Code: mssqlErr.Number, Constraint: constraint, Message: mssqlErr.Message, Err: err}
		if matches := mssqlValueRe.FindStringSubmatch(mssqlErr.Message); len(matches) == 2 {
			result.Fields = m.UniqueKeys.fields(constraint, strings.Split(matches[1], ", "))
		}
		return result
	case mssqlErrCodes["foreignKeyConstraint"]:
		return &ForeignKeyConstraintError{Code: mssqlErr.Number, Constraint: constraint, Message: mssqlErr.Message, Err: err}
	case mssqlErrCodes["tableNotFound"]:
		return errors.Join(ErrTableNotFound, err)
	}

	return err
}
