package dialect

import (
	"fmt"
	"regexp"
	"strings"

	"gorm.io/modelplan/errtranslator"
)

// Dialect describes the backend capabilities the executor and logger rely on.
// SQL generation itself stays with the external query generator.
type Dialect interface {
	Name() string
	Quote(identifier string) string
	BindVar(i int) string
	// NumericPlaceholder matches positional placeholders, nil when the dialect binds with '?'
	NumericPlaceholder() *regexp.Regexp
	SavePointSQL(name string) string
	RollbackToSQL(name string) string
	// ReleaseSQL is empty when the dialect has no explicit release statement
	ReleaseSQL(name string) string
	SupportsSavePoints() bool
	Translator() errtranslator.ErrTranslator
}

var dialects = map[string]func() Dialect{}

// Register makes a dialect available by name
func Register(name string, fc func() Dialect) {
	dialects[name] = fc
}

// Get returns the dialect registered under name
func Get(name string) (Dialect, error) {
	if fc, ok := dialects[strings.ToLower(name)]; ok {
		return fc(), nil
	}
	return nil, fmt.Errorf("dialect %q is not supported", name)
}

func init() {
	Register("mysql", func() Dialect { return &mysql{} })
	Register("mariadb", func() Dialect { return &mysql{} })
	Register("postgres", func() Dialect { return &postgres{} })
	Register("sqlite", func() Dialect { return &sqlite3{} })
	Register("sqlite3", func() Dialect { return &sqlite3{} })
	Register("mssql", func() Dialect { return &mssql{} })
	Register("oracle", func() Dialect { return &oracle{} })
	Register("snowflake", func() Dialect { return &snowflake{} })
	Register("db2", func() Dialect { return &db2{} })
}

type common struct{}

func (common) BindVar(int) string { return "?" }

func (common) NumericPlaceholder() *regexp.Regexp { return nil }

func (common) SavePointSQL(name string) string { return "SAVEPOINT " + name }

func (common) RollbackToSQL(name string) string { return "ROLLBACK TO SAVEPOINT " + name }

func (common) ReleaseSQL(name string) string { return "RELEASE SAVEPOINT " + name }

func (common) SupportsSavePoints() bool { return true }

func (common) Translator() errtranslator.ErrTranslator { return errtranslator.Chain{} }

func quoteWith(identifier string, open, closing byte) string {
	var builder strings.Builder
	for idx, part := range strings.Split(identifier, ".") {
		if idx > 0 {
			builder.WriteByte('.')
		}
		builder.WriteByte(open)
		builder.WriteString(strings.ReplaceAll(part, string(closing), string([]byte{closing, closing})))
		builder.WriteByte(closing)
	}
	return builder.String()
}
