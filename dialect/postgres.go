package dialect

import (
	"regexp"
	"strconv"

	"gorm.io/modelplan/errtranslator"
)

var dollarPlaceholder = regexp.MustCompile(`\$(\d+)`)

type postgres struct {
	common
}

func (postgres) Name() string { return "postgres" }

func (postgres) Quote(identifier string) string { return quoteWith(identifier, '"', '"') }

func (postgres) BindVar(i int) string { return "$" + strconv.Itoa(i) }

func (postgres) NumericPlaceholder() *regexp.Regexp { return dollarPlaceholder }

func (postgres) Translator() errtranslator.ErrTranslator { return &errtranslator.PostgresErrTranslator{} }
