package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/connwatch/connwatch/internal/model"
)

const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
)

// pgFailures maps well-known PostgreSQL SQLSTATE codes to curated messages
// so operators never see a raw driver error.
var pgFailures = map[string]Failure{
	"28P01": {model.FailureUnauthorized, "postgres-28P01", "Login failed — check username and password"},
	"28000": {model.FailureUnauthorized, "postgres-28000", "Login rejected — account not authorized"},
	"3D000": {model.FailureNotFound, "postgres-3D000", "Database does not exist"},
	"53300": {model.FailureRateLimited, "postgres-53300", "Too many connections — try again later"},
	"57P03": {model.FailureUnreachable, "postgres-57P03", "Server is not accepting connections"},
}

// mysqlFailures maps well-known MySQL server error numbers the same way.
var mysqlFailures = map[uint16]Failure{
	1044: {model.FailureUnauthorized, "mysql-1044", "Access denied to database — check grants"},
	1045: {model.FailureUnauthorized, "mysql-1045", "Login failed — check username and password"},
	1049: {model.FailureNotFound, "mysql-1049", "Database does not exist"},
	1040: {model.FailureRateLimited, "mysql-1040", "Too many connections — try again later"},
	1130: {model.FailureUnauthorized, "mysql-1130", "Host is not allowed to connect"},
}

// databaseProbe is the shared round-trip for the SQL-speaking kinds: open,
// ping, run a trivial query, read the server version.
type databaseProbe struct {
	prefix       string
	driver       string
	buildDSN     func(conn *model.Connection, creds Credentials) (string, error)
	versionQuery string
	classify     func(err error) (Failure, bool)
}

func (p *databaseProbe) Probe(ctx context.Context, conn *model.Connection, creds Credentials) (string, map[string]string, error) {
	dsn, err := p.buildDSN(conn, creds)
	if err != nil {
		return "", nil, err
	}

	db, err := sql.Open(p.driver, dsn)
	if err != nil {
		return "", nil, err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", nil, err
	}

	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		return "", nil, err
	}

	metadata := map[string]string{}
	var version string
	if err := db.QueryRowContext(ctx, p.versionQuery).Scan(&version); err == nil {
		metadata["server_version"] = version
	}

	return "Connection successful", metadata, nil
}

func (p *databaseProbe) Classify(err error) Failure {
	if errors.Is(err, errMissingDSNFields) {
		return Failure{
			Class:   model.FailureInvalidConf,
			Code:    p.prefix + "-config",
			Message: "Connection definition is incomplete — server and database are required",
		}
	}
	if failure, ok := classifyNetwork(p.prefix, err); ok {
		return failure
	}
	if failure, ok := p.classify(err); ok {
		return failure
	}
	return unknownFailure(p.prefix)
}

var errMissingDSNFields = errors.New("connection is missing required location fields")

func newPostgresProbe() *databaseProbe {
	return &databaseProbe{
		prefix:       "postgres",
		driver:       "postgres",
		versionQuery: "SHOW server_version",
		buildDSN: func(conn *model.Connection, creds Credentials) (string, error) {
			if creds.ConnectionString != "" {
				return creds.ConnectionString, nil
			}
			if conn.Server == "" || conn.Database == "" {
				return "", errMissingDSNFields
			}

			port := conn.Port
			if port == 0 {
				port = defaultPostgresPort
			}

			parts := []string{
				fmt.Sprintf("host=%s", conn.Server),
				fmt.Sprintf("port=%d", port),
				fmt.Sprintf("dbname=%s", conn.Database),
				"sslmode=prefer",
			}
			// No explicit credentials: fall through to the ambient identity
			// (peer/ident auth), the closest thing to trusted auth postgres has.
			if creds.Username != "" {
				parts = append(parts, fmt.Sprintf("user=%s", creds.Username))
				if creds.Password != "" {
					parts = append(parts, fmt.Sprintf("password=%s", creds.Password))
				}
			}
			if conn.Options != "" {
				parts = append(parts, conn.Options)
			}
			return strings.Join(parts, " "), nil
		},
		classify: func(err error) (Failure, bool) {
			var pqErr *pq.Error
			if !errors.As(err, &pqErr) {
				return Failure{}, false
			}
			if failure, ok := pgFailures[string(pqErr.Code)]; ok {
				return failure, true
			}
			return Failure{
				Class:   model.FailureUnknown,
				Code:    "postgres-" + string(pqErr.Code),
				Message: "Database reported an error",
			}, true
		},
	}
}

func newMySQLProbe() *databaseProbe {
	return &databaseProbe{
		prefix:       "mysql",
		driver:       "mysql",
		versionQuery: "SELECT VERSION()",
		buildDSN: func(conn *model.Connection, creds Credentials) (string, error) {
			if creds.ConnectionString != "" {
				return creds.ConnectionString, nil
			}
			if conn.Server == "" || conn.Database == "" {
				return "", errMissingDSNFields
			}

			cfg := mysql.NewConfig()
			cfg.Net = "tcp"
			port := conn.Port
			if port == 0 {
				port = defaultMySQLPort
			}
			cfg.Addr = fmt.Sprintf("%s:%d", conn.Server, port)
			cfg.DBName = conn.Database
			cfg.User = creds.Username
			cfg.Passwd = creds.Password
			if conn.Options != "" {
				if cfg.Params == nil {
					cfg.Params = map[string]string{}
				}
				for _, kv := range strings.Split(conn.Options, "&") {
					if key, value, ok := strings.Cut(kv, "="); ok {
						cfg.Params[key] = value
					}
				}
			}
			return cfg.FormatDSN(), nil
		},
		classify: func(err error) (Failure, bool) {
			var myErr *mysql.MySQLError
			if !errors.As(err, &myErr) {
				return Failure{}, false
			}
			if failure, ok := mysqlFailures[myErr.Number]; ok {
				return failure, true
			}
			return Failure{
				Class:   model.FailureUnknown,
				Code:    fmt.Sprintf("mysql-%d", myErr.Number),
				Message: "Database reported an error",
			}, true
		},
	}
}

func newSQLiteProbe() *databaseProbe {
	return &databaseProbe{
		prefix:       "sqlite",
		driver:       "sqlite3",
		versionQuery: "SELECT sqlite_version()",
		buildDSN: func(conn *model.Connection, creds Credentials) (string, error) {
			if creds.ConnectionString != "" {
				return creds.ConnectionString, nil
			}
			if conn.Database == "" {
				return "", errMissingDSNFields
			}
			// mode=ro keeps the probe from creating the file when the path
			// is wrong.
			return fmt.Sprintf("file:%s?mode=ro", conn.Database), nil
		},
		classify: func(err error) (Failure, bool) {
			msg := err.Error()
			switch {
			case strings.Contains(msg, "unable to open database file"):
				return Failure{model.FailureNotFound, "sqlite-notfound", "Database file could not be opened"}, true
			case strings.Contains(msg, "file is not a database"):
				return Failure{model.FailureInvalidConf, "sqlite-invalid", "File is not a SQLite database"}, true
			}
			return Failure{}, false
		},
	}
}
