package store

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/meshtrace/internal/fault"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Origin column values.
const (
	OriginYes = "Y"
	OriginNo  = "N"
)

// Config describes how to reach the shared store.
type Config struct {
	Driver   Dialect
	Path     string // sqlite3 only
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string // postgres only, defaults to "disable"
}

// DSN returns the database/sql driver name and data source name.
func (c Config) DSN() (string, string, error) {
	switch c.Driver {
	case DialectSQLite, "":
		if c.Path == "" {
			return "", "", fault.New(fault.KindConfiguration, "store", "sqlite3 store requires a path")
		}
		return string(DialectSQLite), c.Path, nil

	case DialectPostgres:
		var missing []string
		for _, kv := range [][2]string{
			{"host", c.Host}, {"database", c.Database}, {"user", c.User}, {"password", c.Password},
		} {
			if kv[1] == "" {
				missing = append(missing, kv[0])
			}
		}
		if len(missing) > 0 {
			return "", "", fault.Newf(fault.KindConfiguration, "store",
				"postgres store requires %s", strings.Join(missing, ", "))
		}

		host := c.Host
		if c.Port != 0 {
			host = host + ":" + strconv.Itoa(c.Port)
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     host,
			Path:     "/" + c.Database,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return string(DialectPostgres), u.String(), nil

	default:
		return "", "", fault.Newf(fault.KindConfiguration, "store", "unsupported driver %q", c.Driver)
	}
}

// rebind rewrites ? placeholders into the dialect's bind syntax.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// idColumn returns the surrogate key definition for the dialect.
func (d Dialect) idColumn() string {
	if d == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name is safe to interpolate into SQL.
func ValidTableName(name string) bool {
	return len(name) <= 63 && tableNamePattern.MatchString(name)
}

// CheckTableName returns a configuration error if name is not a valid table name.
func CheckTableName(name string) error {
	if !ValidTableName(name) {
		return fault.Newf(fault.KindConfiguration, "store", "invalid table name %q", name)
	}
	return nil
}

// Q expands %[1]s in a query template with the table name.
// The name must already have passed CheckTableName.
func Q(template, table string) string {
	return fmt.Sprintf(template, table)
}
