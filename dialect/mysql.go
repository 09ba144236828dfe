package dialect

import "gorm.io/modelplan/errtranslator"

type mysql struct {
	common
	UniqueKeys errtranslator.UniqueKeys
}

func (mysql) Name() string { return "mysql" }

func (mysql) Quote(identifier string) string { return quoteWith(identifier, '`', '`') }

func (m *mysql) Translator() errtranslator.ErrTranslator {
	return &errtranslator.MysqlErrTranslator{UniqueKeys: m.UniqueKeys}
}
