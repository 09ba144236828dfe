package clause

// OrderByColumn one ordering term, the generator renders it
type OrderByColumn struct {
	Column Column
	Desc   bool
}
