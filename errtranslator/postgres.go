package errtranslator

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var postgresErrCodes = map[string]string{
	"uniqueConstraint":     "23505",
	"foreignKeyConstraint": "23503",
	"tableNotFound":        "42P01",
}

// PostgresErrTranslator understands both lib/pq and pgx errors
type PostgresErrTranslator struct{}

func (p *PostgresErrTranslator) Translate(err error) error {
	var (
		code, detail, message, constraint, table string
		pqErr                                    *pq.Error
		pgErr                                    *pgconn.PgError
	)

	switch {
	case errors.As(err, &pgErr):
		code, detail, message, constraint, table = pgErr.Code, pgErr.Detail, pgErr.Message, pgErr.ConstraintName, pgErr.TableName
	case errors.As(err, &pqErr):
		code, detail, message, constraint, table = string(pqErr.Code), pqErr.Detail, pqErr.Message, pqErr.Constraint, pqErr.Table
	default:
		return err
	}

	switch code {
	case postgresErrCodes["uniqueConstraint"]:
		return &UniqueConstraintError{Code: code, Constraint: constraint, Fields: parsePostgresDetail(detail), Message: message, Err: err}
	case postgresErrCodes["foreignKeyConstraint"]:
		result := &ForeignKeyConstraintError{Code: code, Constraint: constraint, Table: table, Message: message, Err: err}
		for name := range parsePostgresDetail(detail) {
			result.Fields = append(result.Fields, name)
		}
		return result
	case postgresErrCodes["tableNotFound"]:
		return errors.Join(ErrTableNotFound, err)
	}

	return err
}
