package dialect

import (
	"regexp"
	"strconv"

	"gorm.io/modelplan/errtranslator"
)

var atPlaceholder = regexp.MustCompile(`@p(\d+)`)

type mssql struct {
	common
	UniqueKeys errtranslator.UniqueKeys
}

func (mssql) Name() string { return "mssql" }

func (mssql) Quote(identifier string) string { return quoteWith(identifier, '[', ']') }

func (mssql) BindVar(i int) string { return "@p" + strconv.Itoa(i) }

func (mssql) NumericPlaceholder() *regexp.Regexp { return atPlaceholder }

func (mssql) SavePointSQL(name string) string { return "SAVE TRANSACTION " + name }

func (mssql) RollbackToSQL(name string) string { return "ROLLBACK TRANSACTION " + name }

func (mssql) ReleaseSQL(string) string { return "" }

func (m *mssql) Translator() errtranslator.ErrTranslator {
	return &errtranslator.MssqlErrTranslator{UniqueKeys: m.UniqueKeys}
}
