package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// Reader yields records one by one. Next returns io.EOF after the last one.
type Reader interface {
	Next() (Record, error)
}

type jsonReader struct {
	dec *json.Decoder
}

// NewJSONReader reads records written by a JSONWriter.
func NewJSONReader(r io.Reader) Reader {
	return &jsonReader{dec: json.NewDecoder(r)}
}

func (r *jsonReader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)

	return rec, err
}

type msgpackReader struct {
	dec *msgpack.Decoder
}

// NewMsgpackReader reads records written by a MsgpackWriter.
func NewMsgpackReader(r io.Reader) Reader {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")

	return &msgpackReader{dec: dec}
}

func (r *msgpackReader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)

	return rec, err
}

// ReadAll drains a reader.
func ReadAll(r Reader) ([]Record, error) {
	var out []Record

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}

		out = append(out, rec)
	}
}

// ReadFile reads a trace file in any format.
func ReadFile(path string, f Format) ([]Record, error) {
	if f == FormatSQLite {
		return ReadSQLiteFile(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if f == FormatMsgpack {
		return ReadAll(NewMsgpackReader(file))
	}

	return ReadAll(NewJSONReader(file))
}
