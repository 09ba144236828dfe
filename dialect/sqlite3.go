package dialect

import "gorm.io/modelplan/errtranslator"

type sqlite3 struct {
	common
}

func (sqlite3) Name() string { return "sqlite" }

func (sqlite3) Quote(identifier string) string { return quoteWith(identifier, '`', '`') }

func (sqlite3) Translator() errtranslator.ErrTranslator { return &errtranslator.SqliteErrTranslator{} }
