package dialect

import (
	"regexp"
	"strconv"
)

var colonPlaceholder = regexp.MustCompile(`:(\d+)`)

type oracle struct {
	common
}

func (oracle) Name() string { return "oracle" }

func (oracle) Quote(identifier string) string { return quoteWith(identifier, '"', '"') }

func (oracle) BindVar(i int) string { return ":" + strconv.Itoa(i) }

func (oracle) NumericPlaceholder() *regexp.Regexp { return colonPlaceholder }

func (oracle) ReleaseSQL(string) string { return "" }
