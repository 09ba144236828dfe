package logger

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gorm.io/modelplan/utils"
)

const (
	tmFmt   = "2006-01-02 15:04:05"
	nullStr = "NULL"
)

var (
	convertibleTypes     = []reflect.Type{reflect.TypeOf(time.Time{}), reflect.TypeOf(false), reflect.TypeOf([]byte{})}
	numericPlaceholderRe = regexp.MustCompile(`\$\d+\$`)
)

func isPrintable(s []byte) bool {
	for _, r := range s {
		if !unicode.IsPrint(rune(r)) {
			return false
		}
	}
	return true
}

// ExplainSQL inlines vars into a generated statement for logging purposes only
func ExplainSQL(sql string, numericPlaceholder *regexp.Regexp, escaper string, avars ...interface{}) string {
	vars := make([]string, len(avars))
	quote := func(s string) string {
		return escaper + strings.ReplaceAll(s, escaper, "\\"+escaper) + escaper
	}

	var convertParams func(interface{}, int)
	convertParams = func(v interface{}, idx int) {
		switch v := v.(type) {
		case bool:
			vars[idx] = strconv.FormatBool(v)
		case time.Time:
			vars[idx] = escaper + v.Format(tmFmt) + escaper
		case *time.Time:
			if v == nil {
				vars[idx] = nullStr
			} else {
				convertParams(*v, idx)
			}
		case driver.Valuer:
			rv := reflect.ValueOf(v)
			if rv.Kind() == reflect.Ptr && rv.IsNil() {
				vars[idx] = nullStr
				return
			}
			r, _ := v.Value()
			convertParams(r, idx)
		case []byte:
			if isPrintable(v) {
				vars[idx] = quote(string(v))
			} else {
				vars[idx] = escaper + "<binary>" + escaper
			}
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			vars[idx] = utils.ToString(v)
		case float32:
			vars[idx] = fmt.Sprintf("%.6f", v)
		case float64:
			vars[idx] = fmt.Sprintf("%.6f", v)
		case string:
			vars[idx] = quote(v)
		default:
			rv := reflect.ValueOf(v)
			if v == nil || !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
				vars[idx] = nullStr
				return
			}
			if rv.Kind() == reflect.Ptr {
				convertParams(rv.Elem().Interface(), idx)
				return
			}
			for _, t := range convertibleTypes {
				if rv.Type().ConvertibleTo(t) {
					convertParams(rv.Convert(t).Interface(), idx)
					return
				}
			}
			vars[idx] = quote(fmt.Sprint(v))
		}
	}

	for idx, v := range avars {
		convertParams(v, idx)
	}

	if numericPlaceholder == nil {
		var idx int
		var newSQL strings.Builder
		for _, v := range []byte(sql) {
			if v == '?' && idx < len(vars) {
				newSQL.WriteString(vars[idx])
				idx++
			} else {
				newSQL.WriteByte(v)
			}
		}
		return newSQL.String()
	}

	sql = numericPlaceholder.ReplaceAllString(sql, "$$$1$$")
	return numericPlaceholderRe.ReplaceAllStringFunc(sql, func(v string) string {
		n, _ := strconv.Atoi(v[1 : len(v)-1])
		n--
		if n >= 0 && n < len(vars) {
			return vars[n]
		}
		return v
	})
}
