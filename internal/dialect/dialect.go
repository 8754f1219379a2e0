package dialect

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Variant identifies the source database flavor. Both variants speak the
// MySQL wire protocol, but they are configured, connected, and reported
// separately so that runs against either source never share state.
type Variant int

const (
	MariaDB Variant = iota
	MySQL
)

// Parse maps a configured connection type to its Variant.
func Parse(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mariadb":
		return MariaDB, nil
	case "mysql":
		return MySQL, nil
	default:
		return 0, fmt.Errorf("unknown connection type %q (want mariadb or mysql)", s)
	}
}

func (v Variant) String() string {
	switch v {
	case MariaDB:
		return "mariadb"
	case MySQL:
		return "mysql"
	default:
		return "unknown"
	}
}

// DriverName returns the database/sql driver name both variants register under.
func (v Variant) DriverName() string {
	return "mysql"
}

// FormatDSN builds the driver DSN for this variant from connection parts.
// ParseTime is always enabled so DATE/DATETIME columns scan as time.Time.
func (v Variant) FormatDSN(user, password, addr, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Open opens a connection for the variant and verifies it with a ping.
func (v Variant) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(v.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", v, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s source: %w", v, err)
	}
	return db, nil
}

// OffsetQuery wraps an extraction query for offset pagination.
// Bind order: limit, offset.
func (v Variant) OffsetQuery(query string) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS chunk_src LIMIT ? OFFSET ?", trimQuery(query))
}

// KeysetFirstQuery wraps an extraction query for the first keyset page.
// Bind order: limit.
func (v Variant) KeysetFirstQuery(query, key string) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS chunk_src ORDER BY %s LIMIT ?", trimQuery(query), key)
}

// KeysetQuery wraps an extraction query for keyset pages after the first.
// Bind order: last key, limit.
func (v Variant) KeysetQuery(query, key string) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS chunk_src WHERE %s > ? ORDER BY %s LIMIT ?", trimQuery(query), key, key)
}

// errDuplicateKeyName is ER_DUP_KEYNAME, raised by both variants when an
// index with the same name already exists on the table.
const errDuplicateKeyName = 1061

// IsDuplicateIndex reports whether err means the index already exists.
// Falls back to message matching for non-MySQL drivers (tests run against
// in-process databases).
func IsDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDuplicateKeyName
	}
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func trimQuery(query string) string {
	return strings.TrimSuffix(strings.TrimSpace(query), ";")
}
