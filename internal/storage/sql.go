package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	identQuote    string
	numbered      bool
	timestampType string
	floatType     string
}

var dialects = map[string]dialect{
	"postgres": {identQuote: `"`, numbered: true, timestampType: "TIMESTAMP", floatType: "DOUBLE PRECISION"},
	"mysql":    {identQuote: "`", timestampType: "DATETIME", floatType: "DOUBLE"},
	"sqlite3":  {identQuote: `"`, timestampType: "TIMESTAMP", floatType: "REAL"},
}

func (d dialect) quote(ident string) string {
	return d.identQuote + strings.ReplaceAll(ident, d.identQuote, d.identQuote+d.identQuote) + d.identQuote
}

func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// TableName returns the table a series is stored in.
func TableName(inverterName, seriesID string) string {
	return inverterName + "::" + seriesID
}

// SQLRepo stores series rows in one table per series.
//
// Features:
//   - Tables are created on first use with a timestamp primary key and one
//     float column per field
//   - Every flush is a single multi-row INSERT inside a transaction
//   - postgres, mysql and sqlite3 drivers
type SQLRepo struct {
	db      *sql.DB
	dialect dialect

	mu     sync.Mutex
	tables map[string]bool
}

// NewSQLRepo opens and verifies a connection.
//
// Parameters:
//   - ctx: Context bounding the initial ping
//   - driver: "postgres", "mysql" or "sqlite3"
//   - dsn: Driver specific data source name
//
// Returns:
//   - *SQLRepo: Connected repository
//   - error: Unknown driver, connection or ping failure
func NewSQLRepo(ctx context.Context, driver, dsn string) (*SQLRepo, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("%w: unsupported database driver %q", series.ErrStorage, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", series.ErrStorage, driver, err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", series.ErrStorage, driver, err)
	}

	return NewSQLRepoWithDB(db, driver)
}

// NewSQLRepoWithDB wraps an already opened database.
func NewSQLRepoWithDB(db *sql.DB, driver string) (*SQLRepo, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported database driver %q", series.ErrStorage, driver)
	}
	return &SQLRepo{db: db, dialect: d, tables: make(map[string]bool)}, nil
}

// EnsureTable creates table unless this repo already did so.
func (r *SQLRepo) EnsureTable(ctx context.Context, table string, fields []series.Field) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tables[table] {
		return nil
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(r.dialect.quote(table))
	b.WriteString(" (")
	b.WriteString(r.dialect.quote("timestamp"))
	b.WriteString(" " + r.dialect.timestampType + " NOT NULL PRIMARY KEY")
	for _, f := range fields {
		b.WriteString(", ")
		b.WriteString(r.dialect.quote(f.Name))
		b.WriteString(" " + r.dialect.floatType)
	}
	b.WriteString(")")

	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("%w: create table %s: %v", series.ErrStorage, table, err)
	}
	r.tables[table] = true
	return nil
}

// InsertRows performs a bulk insert of rows.
//
// The operation is atomic - either all rows are inserted or none.
//
// Transaction Flow:
//  1. Begin transaction
//  2. Execute one multi-row INSERT
//  3. Commit or rollback
func (r *SQLRepo) InsertRows(ctx context.Context, table string, fields []series.Field, rows []series.Row) error {
	if len(rows) == 0 {
		return nil
	}

	query, args := r.insertStatement(table, fields, rows)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", series.ErrStorage, err)
	}
	defer tx.Rollback() // rollback if not committed

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert into %s: %v", series.ErrStorage, table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert into %s: %v", series.ErrStorage, table, err)
	}
	return nil
}

func (r *SQLRepo) insertStatement(table string, fields []series.Field, rows []series.Row) (string, []interface{}) {
	columns := make([]string, 0, len(fields)+1)
	columns = append(columns, r.dialect.quote("timestamp"))
	for _, f := range fields {
		columns = append(columns, r.dialect.quote(f.Name))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(r.dialect.quote(table))
	b.WriteString(" (" + strings.Join(columns, ", ") + ") VALUES ")

	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		placeholders := make([]string, len(columns))
		for j := range placeholders {
			placeholders[j] = r.dialect.placeholder(len(args) + j + 1)
		}
		b.WriteString("(" + strings.Join(placeholders, ", ") + ")")

		args = append(args, row.Timestamp)
		for _, v := range row.Values {
			if v == nil {
				args = append(args, nil)
			} else {
				args = append(args, *v)
			}
		}
	}
	return b.String(), args
}

// Close releases all database resources.
func (r *SQLRepo) Close() error {
	return r.db.Close()
}

var _ series.TableWriter = (*SQLRepo)(nil)

// SQLSink stores each series in the table TableName(inverter, series).
// A flush inserts the whole buffer or nothing.
type SQLSink struct {
	repo *SQLRepo
}

func NewSQLSink(repo *SQLRepo) *SQLSink {
	return &SQLSink{repo: repo}
}

func (s *SQLSink) Name() string { return "database" }

func (s *SQLSink) Flush(ctx context.Context, inverterName, seriesID string, ds *series.Dataset) error {
	return ds.DrainToTable(ctx, s.repo, TableName(inverterName, seriesID))
}

func (s *SQLSink) Close() error {
	return s.repo.Close()
}

var _ Sink = (*SQLSink)(nil)
