package dialect

type snowflake struct {
	common
}

func (snowflake) Name() string { return "snowflake" }

func (snowflake) Quote(identifier string) string { return quoteWith(identifier, '"', '"') }

func (snowflake) SupportsSavePoints() bool { return false }
