package dialect

type db2 struct {
	common
}

func (db2) Name() string { return "db2" }

func (db2) Quote(identifier string) string { return quoteWith(identifier, '"', '"') }

func (db2) SavePointSQL(name string) string { return "SAVEPOINT " + name + " ON ROLLBACK RETAIN CURSORS" }
