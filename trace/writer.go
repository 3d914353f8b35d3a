package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kusoof/wprof/datarecording"
)

// Writer is a sink for the records of one page.
type Writer interface {
	Write(r Record) error
	Close() error
}

// Serialize writes every record of the graph. It stops at the first error
// and does not close w.
func Serialize(w Writer, g *Graph) error {
	for _, r := range Records(g) {
		if err := w.Write(r); err != nil {
			return fmt.Errorf("write %s record %d: %w", r.Kind, r.ID, err)
		}
	}

	return nil
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	w   *bufio.Writer
	c   io.Closer
	enc *json.Encoder
}

// NewJSONWriter creates a JSONWriter. If w is an io.Closer, Close closes it.
func NewJSONWriter(w io.Writer) *JSONWriter {
	bw := bufio.NewWriter(w)
	c, _ := w.(io.Closer)

	return &JSONWriter{w: bw, c: c, enc: json.NewEncoder(bw)}
}

// Write encodes one record.
func (w *JSONWriter) Write(r Record) error {
	return w.enc.Encode(r)
}

// Close flushes the buffered lines.
func (w *JSONWriter) Close() error {
	return flushAndClose(w.w, w.c)
}

// MsgpackWriter writes a stream of msgpack encoded records. Field names
// follow the JSON ones.
type MsgpackWriter struct {
	w   *bufio.Writer
	c   io.Closer
	enc *msgpack.Encoder
}

// NewMsgpackWriter creates a MsgpackWriter. If w is an io.Closer, Close
// closes it.
func NewMsgpackWriter(w io.Writer) *MsgpackWriter {
	bw := bufio.NewWriter(w)
	c, _ := w.(io.Closer)

	enc := msgpack.NewEncoder(bw)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)

	return &MsgpackWriter{w: bw, c: c, enc: enc}
}

// Write encodes one record.
func (w *MsgpackWriter) Write(r Record) error {
	return w.enc.Encode(&r)
}

// Close flushes the buffered stream.
func (w *MsgpackWriter) Close() error {
	return flushAndClose(w.w, w.c)
}

func flushAndClose(w *bufio.Writer, c io.Closer) error {
	err := w.Flush()

	if c != nil {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}

	return err
}

// Format selects the trace encoding.
type Format string

// The trace formats.
const (
	FormatJSON    Format = "jsonl"
	FormatMsgpack Format = "msgpack"
	FormatSQLite  Format = "sqlite"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatMsgpack, FormatSQLite:
		return f, nil
	case "json":
		return FormatJSON, nil
	}

	return "", fmt.Errorf("unknown trace format %q", s)
}

// Extension returns the file extension of the format.
func (f Format) Extension() string {
	switch f {
	case FormatMsgpack:
		return ".msgpack"
	case FormatSQLite:
		return ".sqlite3"
	default:
		return ".jsonl"
	}
}

// WriterFactory opens the sink for a page that has completed.
type WriterFactory func(uid, pageURL string) (Writer, error)

const maxNameLen = 128

// FileName derives a trace file name from the page URL and uid. The scheme is
// dropped and path separators and colons become underscores.
func FileName(pageURL, uid string, f Format) string {
	name := strings.TrimPrefix(pageURL, "http://")
	name = strings.TrimPrefix(name, "https://")
	name = strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(name)

	if len(name) > maxNameLen {
		n := maxNameLen
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}

		name = name[:n]
	}

	if name == "" {
		return uid + f.Extension()
	}

	return name + "_" + uid + f.Extension()
}

// NewFileWriterFactory returns a factory that writes each page into its own
// file under dir.
func NewFileWriterFactory(dir string, f Format) WriterFactory {
	return func(uid, pageURL string) (Writer, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		path := filepath.Join(dir, FileName(pageURL, uid, f))

		fmt.Fprintf(os.Stderr, "Recording trace in %s\n", path)

		if f == FormatSQLite {
			rec, err := datarecording.NewSQLiteRecorder(path)
			if err != nil {
				return nil, err
			}

			return NewSQLiteWriter(rec)
		}

		file, err := os.Create(path)
		if err != nil {
			return nil, err
		}

		if f == FormatMsgpack {
			return NewMsgpackWriter(file), nil
		}

		return NewJSONWriter(file), nil
	}
}
