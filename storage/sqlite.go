package storage

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"meeting-telemetry/ingestion/logger"
)

// invalidCount is returned by count-style operations that failed.
const invalidCount = -1

// maxDeleteArgs bounds the IN list of a single DELETE statement.
const maxDeleteArgs = 500

var (
	identPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	colTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z ]*$`)
)

// Row is one table row keyed by column name. Values are string, int64,
// float64, []byte or bool; NULL columns are absent.
type Row map[string]any

// Column is a column name and its SQL type declaration.
type Column struct {
	Name string
	Type string
}

// TableSchema describes a table with a single-column primary key.
type TableSchema struct {
	Name       string
	PrimaryKey Column
	Columns    []Column
}

func (t TableSchema) createStatement() (string, error) {
	if !identPattern.MatchString(t.Name) {
		return "", fmt.Errorf("invalid table name %q", t.Name)
	}
	cols := append([]Column{{Name: t.PrimaryKey.Name, Type: t.PrimaryKey.Type + " PRIMARY KEY"}}, t.Columns...)
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		if !identPattern.MatchString(c.Name) || !colTypePattern.MatchString(c.Type) {
			return "", fmt.Errorf("invalid column %q %q", c.Name, c.Type)
		}
		defs = append(defs, c.Name+" "+c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", ")), nil
}

// TableStore is generic CRUD over named tables. Implementations never
// return storage-engine errors: failures are logged and reduced to false,
// an empty result, or -1.
type TableStore interface {
	CreateTable(schema TableSchema) bool
	DropTable(name string) bool
	InsertBatch(name string, rows []Row) bool
	QueryLimited(name string, maxRows int) []Row
	DeleteByKeyIn(name, key string, values []string) int
	Clear(name string) bool
	Count(name string) int64
}

// --- SQLite Storage Implementation ---

// SQLiteStore implements TableStore on a crawshaw SQLite connection pool.
type SQLiteStore struct {
	pool *sqlitex.Pool
	log  *slog.Logger
}

var _ TableStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the database at path in WAL mode.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	// URI format enables WAL mode and other pragmas
	uri := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	pool, err := sqlitex.Open(uri, 0, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite pool: %w", err)
	}

	slog.Info("sqlite opened", slog.String("path", path))

	return &SQLiteStore{
		pool: pool,
		log:  logger.Component("sqlite"),
	}, nil
}

// Close safely closes the SQLite connection pool.
func (s *SQLiteStore) Close() error {
	s.log.Info("closing sqlite")
	return s.pool.Close()
}

func (s *SQLiteStore) withConn(fn func(conn *sqlite.Conn) error) error {
	conn := s.pool.Get(nil)
	if conn == nil {
		return fmt.Errorf("failed to get connection from pool")
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// CreateTable creates the table if it does not exist.
func (s *SQLiteStore) CreateTable(schema TableSchema) bool {
	query, err := schema.createStatement()
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) error {
			return sqlitex.ExecTransient(conn, query, nil)
		})
	}
	if err != nil {
		s.log.Error("unable to create table", slog.String("table", schema.Name), slog.Any("error", err))
		return false
	}
	return true
}

// DropTable drops the table if it exists.
func (s *SQLiteStore) DropTable(name string) bool {
	err := checkIdent(name)
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) error {
			return sqlitex.ExecTransient(conn, "DROP TABLE IF EXISTS "+name, nil)
		})
	}
	if err != nil {
		s.log.Error("unable to drop table", slog.String("table", name), slog.Any("error", err))
		return false
	}
	return true
}

// InsertBatch inserts all rows in one transaction. Any failure rolls back
// every row of the call. An empty batch succeeds without touching storage.
func (s *SQLiteStore) InsertBatch(name string, rows []Row) bool {
	if len(rows) == 0 {
		return true
	}
	err := checkIdent(name)
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) (err error) {
			defer sqlitex.Save(conn)(&err)
			for i, row := range rows {
				query, args, err := insertStatement(name, row)
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				if err := sqlitex.Exec(conn, query, nil, args...); err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err != nil {
		s.log.Error("unable to insert items",
			slog.String("table", name),
			slog.Int("rows", len(rows)),
			slog.Any("error", err))
		return false
	}
	return true
}

func insertStatement(table string, row Row) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("empty row")
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		if err := checkIdent(c); err != nil {
			return "", nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := bindable(row[c])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", c, err)
		}
		args[i] = v
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
	return query, args, nil
}

// bindable normalizes v to a type sqlitex can bind.
func bindable(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// QueryLimited returns up to maxRows rows in rowid order. maxRows <= 0
// returns every row. Rows that cannot be read are skipped.
func (s *SQLiteStore) QueryLimited(name string, maxRows int) []Row {
	if err := checkIdent(name); err != nil {
		s.log.Error("unable to obtain data", slog.String("table", name), slog.Any("error", err))
		return nil
	}
	limit := int64(maxRows)
	if maxRows <= 0 {
		limit = -1
	}

	var rows []Row
	err := s.withConn(func(conn *sqlite.Conn) error {
		query := fmt.Sprintf("SELECT * FROM %s ORDER BY rowid LIMIT ?", name)
		return sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
			rows = append(rows, readRow(stmt))
			return nil
		}, limit)
	})
	if err != nil {
		s.log.Error("unable to obtain data", slog.String("table", name), slog.Any("error", err))
		return nil
	}
	return rows
}

func readRow(stmt *sqlite.Stmt) Row {
	row := make(Row, stmt.ColumnCount())
	for i := 0; i < stmt.ColumnCount(); i++ {
		name := stmt.ColumnName(i)
		switch stmt.ColumnType(i) {
		case sqlite.SQLITE_INTEGER:
			row[name] = stmt.ColumnInt64(i)
		case sqlite.SQLITE_FLOAT:
			row[name] = stmt.ColumnFloat(i)
		case sqlite.SQLITE_TEXT:
			row[name] = stmt.ColumnText(i)
		case sqlite.SQLITE_BLOB:
			buf := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, buf)
			row[name] = buf
		}
	}
	return row
}

// DeleteByKeyIn deletes rows whose key column is in values and returns the
// number deleted, or -1 on failure (for example a missing table).
func (s *SQLiteStore) DeleteByKeyIn(name, key string, values []string) int {
	if len(values) == 0 {
		return 0
	}
	deleted := 0
	err := checkIdent(name)
	if err == nil {
		err = checkIdent(key)
	}
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) (err error) {
			defer sqlitex.Save(conn)(&err)
			for start := 0; start < len(values); start += maxDeleteArgs {
				end := min(start+maxDeleteArgs, len(values))
				chunk := values[start:end]
				args := make([]any, len(chunk))
				for i, v := range chunk {
					args[i] = v
				}
				placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
				query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", name, key, placeholders)
				if err := sqlitex.ExecTransient(conn, query, nil, args...); err != nil {
					return err
				}
				deleted += conn.Changes()
			}
			return nil
		})
	}
	if err != nil {
		s.log.Error("unable to delete",
			slog.String("table", name),
			slog.String("key", key),
			slog.Int("values", len(values)),
			slog.Any("error", err))
		return invalidCount
	}
	return deleted
}

// Clear deletes every row of the table.
func (s *SQLiteStore) Clear(name string) bool {
	err := checkIdent(name)
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) error {
			return sqlitex.Exec(conn, "DELETE FROM "+name, nil)
		})
	}
	if err != nil {
		s.log.Error("unable to clear table", slog.String("table", name), slog.Any("error", err))
		return false
	}
	return true
}

// Count returns the number of rows in the table, or -1 on failure.
func (s *SQLiteStore) Count(name string) int64 {
	var count int64 = invalidCount
	err := checkIdent(name)
	if err == nil {
		err = s.withConn(func(conn *sqlite.Conn) error {
			return sqlitex.Exec(conn, "SELECT COUNT(*) FROM "+name, func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			})
		})
	}
	if err != nil {
		s.log.Warn("unable to count rows", slog.String("table", name), slog.Any("error", err))
		return invalidCount
	}
	return count
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
