package logger_test

import (
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/jinzhu/now"
	"github.com/stretchr/testify/assert"
	"gorm.io/modelplan/logger"
)

type jsonValue json.RawMessage

func (j jsonValue) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return json.RawMessage(j).MarshalJSON()
}

func TestExplainSQL(t *testing.T) {
	type role string
	type password []byte
	var (
		tt     = now.MustParse("2020-02-23 11:10:10")
		myrole = role("admin")
		pwd    = password([]byte("pass"))
		js     = jsonValue(`{"Name":"test"}`)
		empty  = jsonValue(nil)
	)

	results := []struct {
		SQL           string
		NumericRegexp *regexp.Regexp
		Vars          []interface{}
		Result        string
	}{
		{
			SQL:    "SELECT * FROM projects WHERE name = ? AND id = ? AND ratio = ? AND active = ? AND created_at = ? AND deleted_at = ?",
			Vars:   []interface{}{"jinzhu?", 1, 0.5, true, tt, nil},
			Result: `SELECT * FROM projects WHERE name = "jinzhu?" AND id = 1 AND ratio = 0.500000 AND active = true AND created_at = "2020-02-23 11:10:10" AND deleted_at = NULL`,
		},
		{
			SQL:    "INSERT INTO users (role, pass, meta, extra, bytes) VALUES (?, ?, ?, ?, ?)",
			Vars:   []interface{}{myrole, pwd, js, empty, []byte("w@g.\"com")},
			Result: `INSERT INTO users (role, pass, meta, extra, bytes) VALUES ("admin", "pass", "{\"Name\":\"test\"}", NULL, "w@g.\"com")`,
		},
		{
			SQL:           "UPDATE tasks SET title = $2 WHERE id = $1",
			NumericRegexp: regexp.MustCompile(`\$(\d+)`),
			Vars:          []interface{}{7, "x"},
			Result:        `UPDATE tasks SET title = "x" WHERE id = 7`,
		},
		{
			SQL:           "UPDATE tasks SET title = @p1 WHERE id = @p2",
			NumericRegexp: regexp.MustCompile(`@p(\d+)`),
			Vars:          []interface{}{"x", &tt},
			Result:        `UPDATE tasks SET title = "x" WHERE id = "2020-02-23 11:10:10"`,
		},
	}

	for idx, r := range results {
		assert.Equal(t, r.Result, logger.ExplainSQL(r.SQL, r.NumericRegexp, `"`, r.Vars...), "case #%d", idx)
	}
}
