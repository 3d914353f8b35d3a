package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kusoof/wprof/datarecording"
)

// Table names used by the SQLite format.
const (
	NodeTable  = "wprof_nodes"
	ChunkTable = "wprof_chunks"
)

// nodeRow is one record in NodeTable. Detail holds the full record as JSON;
// the other columns are there for querying.
type nodeRow struct {
	Page        string
	ID          uint32
	Kind        string
	Parent      uint32
	Gap         bool
	DocumentURL string
	StartTime   float64
	EndTime     float64
	Detail      string
}

type chunkRow struct {
	Page       string
	ResourceID uint64
	Time       float64
	Length     int64
}

// SQLiteWriter writes records as rows through a DataRecorder. Open nodes get
// an EndTime of -1.
type SQLiteWriter struct {
	recorder datarecording.DataRecorder
}

// NewSQLiteWriter creates the trace tables in the recorder.
func NewSQLiteWriter(recorder datarecording.DataRecorder) (*SQLiteWriter, error) {
	if err := recorder.CreateTable(NodeTable, nodeRow{}); err != nil {
		return nil, err
	}

	if err := recorder.CreateTable(ChunkTable, chunkRow{}); err != nil {
		return nil, err
	}

	return &SQLiteWriter{recorder: recorder}, nil
}

// Write buffers the rows of one record.
func (w *SQLiteWriter) Write(r Record) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return err
	}

	row := nodeRow{
		Page:        r.Page,
		ID:          uint32(r.ID),
		Kind:        r.Kind,
		Parent:      uint32(r.Parent),
		Gap:         r.Gap,
		DocumentURL: r.DocumentURL,
		StartTime:   r.StartTime,
		EndTime:     -1,
		Detail:      string(detail),
	}
	if r.EndTime != nil {
		row.EndTime = *r.EndTime
	}

	if err := w.recorder.InsertData(NodeTable, row); err != nil {
		return err
	}

	if r.Resource == nil {
		return nil
	}

	for _, c := range r.Resource.Chunks {
		err := w.recorder.InsertData(ChunkTable, chunkRow{
			Page:       r.Page,
			ResourceID: r.Resource.ResourceID,
			Time:       c.Time,
			Length:     c.Length,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Close flushes and closes the recorder.
func (w *SQLiteWriter) Close() error {
	return w.recorder.Close()
}

// ReadSQLite reads all records from a database written by SQLiteWriter, in
// the order they were written.
func ReadSQLite(ctx context.Context, db *sql.DB) ([]Record, error) {
	return readSQLite(ctx, datarecording.NewSQLiteReaderWithDB(db))
}

// ReadSQLiteFile reads all records from an SQLite trace file.
func ReadSQLiteFile(path string) ([]Record, error) {
	r, err := datarecording.NewSQLiteReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return readSQLite(context.Background(), r)
}

func readSQLite(ctx context.Context, reader datarecording.DataReader) ([]Record, error) {
	reader.MapTable(NodeTable, nodeRow{})

	rows, _, err := reader.Query(ctx, NodeTable, datarecording.QueryParams{OrderBy: "rowid"})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))

	for _, row := range rows {
		nr := row.(*nodeRow)

		var rec Record
		if err := json.Unmarshal([]byte(nr.Detail), &rec); err != nil {
			return nil, fmt.Errorf("node %d of page %s: %w", nr.ID, nr.Page, err)
		}

		out = append(out, rec)
	}

	return out, nil
}
