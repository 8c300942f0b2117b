package gormdb

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

func dialector(ds *DataSourceConfig) (gorm.Dialector, error) {
	dsn, err := buildDSN(ds)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(ds.Driver) {
	case DriverPostgres, "":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", ds.Driver)
	}
}

func buildDSN(ds *DataSourceConfig) (string, error) {
	if strings.TrimSpace(ds.DSN) != "" {
		return ds.DSN, nil
	}
	driver := strings.ToLower(ds.Driver)
	if driver == DriverSQLite {
		if ds.Database == "" {
			return "file::memory:?cache=shared", nil
		}
		return ds.Database, nil
	}
	if ds.Host == "" || ds.User == "" || ds.Database == "" {
		return "", fmt.Errorf("host, user, database required when dsn not provided")
	}
	keys := make([]string, 0, len(ds.Params))
	for k := range ds.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if driver == DriverMySQL {
		port := ds.Port
		if port == 0 {
			port = 3306
		}
		q := url.Values{}
		q.Set("parseTime", "true")
		for _, k := range keys {
			q.Set(k, ds.Params[k])
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", ds.User, ds.Password, ds.Host, port, ds.Database, q.Encode()), nil
	}

	port := ds.Port
	if port == 0 {
		port = 5432
	}
	parts := []string{
		"host=" + ds.Host,
		"user=" + ds.User,
		"password=" + ds.Password,
		"dbname=" + ds.Database,
		fmt.Sprintf("port=%d", port),
	}
	for _, k := range keys {
		parts = append(parts, k+"="+ds.Params[k])
	}
	return strings.Join(parts, " "), nil
}
