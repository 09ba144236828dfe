package errtranslator

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var mysqlErrCodes = map[string]uint16{
	"uniqueConstraint":     1062,
	"foreignKeyOnDelete":   1451,
	"foreignKeyConstraint": 1452,
	"tableNotFound":        1146,
}

var (
	mysqlDuplicateRe  = regexp.MustCompile(`Duplicate entry '(.*)' for key '(.+?)'`)
	mysqlForeignKeyRe = regexp.MustCompile("CONSTRAINT `(.+?)` FOREIGN KEY \\(`(.+?)`\\) REFERENCES `(.+?)`")
)

type MysqlErrTranslator struct {
	UniqueKeys UniqueKeys
}

func (m *MysqlErrTranslator) Translate(err error) error {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return err
	}

	switch mysqlErr.Number {
	case mysqlErrCodes["uniqueConstraint"]:
		result := &UniqueConstraintError{Code: mysqlErr.Number, Message: mysqlErr.Message, Err: err}
		if matches := mysqlDuplicateRe.FindStringSubmatch(mysqlErr.Message); len(matches) == 3 {
			result.Constraint = matches[2]
			result.Fields = m.UniqueKeys.fields(matches[2], strings.Split(matches[1], "-"))
		}
		return result
	case mysqlErrCodes["foreignKeyOnDelete"], mysqlErrCodes["foreignKeyConstraint"]:
		result := &ForeignKeyConstraintError{Code: mysqlErr.Number, Message: mysqlErr.Message, Err: err}
		if matches := mysqlForeignKeyRe.FindStringSubmatch(mysqlErr.Message); len(matches) == 4 {
			result.Constraint = matches[1]
			result.Fields = strings.Split(strings.ReplaceAll(matches[2], "`", ""), ", ")
			result.Table = matches[3]
		}
		return result
	case mysqlErrCodes["tableNotFound"]:
		return errors.Join(ErrTableNotFound, err)
	}

	return err
}
