// Package datarecording stores flat records in SQLite tables, batching
// inserts into transactions.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/tebeka/atexit"
)

// DataRecorder records flat structs into tables.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry. Creating an existing table is not an error.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers an entry for a table created before.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of the tables created.
	ListTables() []string

	// Flush writes all buffered entries.
	Flush() error

	// Close flushes and releases the database if the recorder opened it.
	Close() error
}

const defaultBatchSize = 10000

// NewSQLiteRecorder creates a recorder writing to a new SQLite file.
func NewSQLiteRecorder(filename string) (DataRecorder, error) {
	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	w := newSQLiteRecorder(db)
	w.ownsDB = true

	id := atexit.Register(func() { _ = w.close(false) })
	w.exitHandler = &id

	return w, nil
}

// NewSQLiteRecorderWithDB creates a recorder on an open database. The caller
// keeps ownership of db.
func NewSQLiteRecorderWithDB(db *sql.DB) DataRecorder {
	return newSQLiteRecorder(db)
}

func newSQLiteRecorder(db *sql.DB) *sqliteRecorder {
	return &sqliteRecorder{
		db:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	lock sync.Mutex

	db     *sql.DB
	ownsDB bool
	closed bool

	exitHandler *atexit.HandlerID

	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
}

func columnType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool:
		return "BOOLEAN", true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

func columns(entry any) ([]string, error) {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.New("entry must be a struct")
	}

	names := structs.Names(entry)
	if len(names) != t.NumField() {
		return nil, errors.New("entry must only have exported fields")
	}

	cols := make([]string, 0, len(names))

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		sqlType, ok := columnType(field.Type.Kind())
		if !ok {
			return nil, fmt.Errorf("field %s has unsupported type %s", field.Name, field.Type)
		}

		cols = append(cols, field.Name+" "+sqlType)
	}

	return cols, nil
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.tables[tableName]; exists {
		return nil
	}

	cols, err := columns(sampleEntry)
	if err != nil {
		return fmt.Errorf("table %s: %w", tableName, err)
	}

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + strings.Join(cols, ", \n\t") + "\n" + `);`
	if _, err := r.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	r.tables[tableName] = &table{structType: reflect.TypeOf(sampleEntry)}
	r.tableOrder = append(r.tableOrder, tableName)

	return nil
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) error {
	r.lock.Lock()

	t, exists := r.tables[tableName]
	if !exists {
		r.lock.Unlock()
		return fmt.Errorf("table %s does not exist", tableName)
	}

	if reflect.TypeOf(entry) != t.structType {
		r.lock.Unlock()
		return fmt.Errorf("table %s holds %s, got %T", tableName, t.structType, entry)
	}

	t.entries = append(t.entries, entry)
	r.entryCount++
	full := r.entryCount >= r.batchSize

	r.lock.Unlock()

	if full {
		return r.Flush()
	}

	return nil
}

func (r *sqliteRecorder) ListTables() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]string(nil), r.tableOrder...)
}

func (r *sqliteRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flushLocked()
}

func (r *sqliteRecorder) flushLocked() error {
	if r.entryCount == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	for _, tableName := range r.tableOrder {
		t := r.tables[tableName]
		if len(t.entries) == 0 {
			continue
		}

		if err := insertAll(tx, tableName, t.entries); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, t := range r.tables {
		t.entries = nil
	}

	r.entryCount = 0

	return nil
}

func insertAll(tx *sql.Tx, tableName string, entries []any) error {
	n := structs.Names(entries[0])
	for i := range n {
		n[i] = "?"
	}

	sqlStr := "INSERT INTO " + tableName + " VALUES (" + strings.Join(n, ", ") + ")"

	stmt, err := tx.Prepare(sqlStr)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		v := reflect.ValueOf(entry)
		args := make([]any, v.NumField())

		for i := range args {
			args[i] = v.Field(i).Interface()
		}

		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert into %s: %w", tableName, err)
		}
	}

	return nil
}

func (r *sqliteRecorder) Close() error {
	return r.close(true)
}

// close must not cancel the exit handler while exit handlers run.
func (r *sqliteRecorder) close(cancelExit bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	if cancelExit && r.exitHandler != nil {
		_ = r.exitHandler.Cancel()
	}

	r.exitHandler = nil

	err := r.flushLocked()

	if r.ownsDB {
		if cerr := r.db.Close(); err == nil {
			err = cerr
		}
	}

	return err
}
