package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namer maps model and attribute names to physical names
type Namer interface {
	TableName(model string) string
	ColumnName(table, attribute string) string
	IndexName(table, column string) string
}

// NamingStrategy snake_cases names, tables are pluralized unless SingularTable is set
type NamingStrategy struct {
	TablePrefix   string
	SingularTable bool
}

// TableName table of model
func (ns NamingStrategy) TableName(model string) string {
	table := toDBName(model)
	if !ns.SingularTable {
		table = inflection.Plural(table)
	}
	return ns.TablePrefix + table
}

// ColumnName column of attribute
func (ns NamingStrategy) ColumnName(_, attribute string) string {
	return toDBName(attribute)
}

// IndexName idx_<table>_<column>, names past 64 characters are shortened with a hash suffix
func (ns NamingStrategy) IndexName(table, column string) string {
	name := "idx_" + table + "_" + toDBName(column)
	if utf8.RuneCountInString(name) <= 64 {
		return name
	}
	sum := sha1.Sum([]byte(name))
	return name[:55] + "_" + hex.EncodeToString(sum[:4])
}

var (
	dbNames sync.Map
	// initialisms are title cased before splitting so "URLID" reads as "Url" "Id"
	initialisms = func() *strings.Replacer {
		caser := cases.Title(language.Und)
		var pairs []string
		for _, word := range []string{
			"API", "ASCII", "CPU", "CSS", "DNS", "EOF", "GUID", "HTML", "HTTP", "HTTPS", "ID", "IP",
			"JSON", "LHS", "QPS", "RAM", "RHS", "RPC", "SLA", "SMTP", "SSH", "TLS", "TTL", "UID",
			"UI", "UUID", "URI", "URL", "UTF8", "VM", "XML", "XSRF", "XSS",
		} {
			pairs = append(pairs, word, caser.String(word))
		}
		return strings.NewReplacer(pairs...)
	}()
)

func isUpper(c byte) bool { return 'A' <= c && c <= 'Z' }

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

// toDBName snake_cases name, runs of capitals stay one word
func toDBName(name string) string {
	if name == "" {
		return ""
	}
	if cached, ok := dbNames.Load(name); ok {
		return cached.(string)
	}

	var (
		value    = initialisms.Replace(name)
		last     = len(value) - 1
		buf      strings.Builder
		prevUp   bool
		currUp   = isUpper(value[0])
		nextUp   bool
		nextDigi bool
	)
	buf.Grow(len(value) + 4)

	for i, r := range value[:last] {
		nextUp, nextDigi = isUpper(value[i+1]), isDigit(value[i+1])
		switch {
		case !currUp:
			buf.WriteRune(r)
		case prevUp && (nextUp || nextDigi):
			buf.WriteRune(r + 32)
		default:
			if i > 0 && value[i-1] != '_' && value[i+1] != '_' {
				buf.WriteByte('_')
			}
			buf.WriteRune(r + 32)
		}
		prevUp, currUp = currUp, nextUp
	}

	if currUp {
		if !prevUp && last > 0 {
			buf.WriteByte('_')
		}
		buf.WriteByte(value[last] + 32)
	} else {
		buf.WriteByte(value[last])
	}

	dbName := buf.String()
	dbNames.Store(name, dbName)
	return dbName
}
