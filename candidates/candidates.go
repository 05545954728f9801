// Package candidates loads the pool of repository objects that probes
// draw from. The source is the JSON output of a Solr select query with
// at least the PID field, e.g.
//
//	curl "$SOLR/select?q=...&rows=3000&fl=PID&wt=json" > books.json
package candidates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

const sizeField = "fedora_datastream_latest_OBJ_SIZE_ms"

// Entry is one selectable repository object.
type Entry struct {
	ID string
	// Size of the OBJ datastream in bytes, 0 if unknown
	Size int64
}

type solrDoc struct {
	PID     *string  `json:"PID"`
	ObjSize []string `json:"fedora_datastream_latest_OBJ_SIZE_ms,omitempty"`
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	doc := solrDoc{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc.PID == nil || len(*doc.PID) == 0 {
		return errors.New("document without PID")
	}
	e.ID = *doc.PID
	e.Size = 0
	if len(doc.ObjSize) > 0 {
		// Solr stores the size in a string field
		if n, err := strconv.ParseInt(doc.ObjSize[0], 10, 64); err == nil {
			e.Size = n
		}
	}
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	doc := solrDoc{PID: &e.ID}
	if e.Size > 0 {
		doc.ObjSize = []string{strconv.FormatInt(e.Size, 10)}
	}
	return json.Marshal(doc)
}

// Pool is the immutable list of candidates for a run.
type Pool []Entry

// LargerThan returns the entries with a known size above minSize.
func (p Pool) LargerThan(minSize int64) Pool {
	r := Pool{}
	for _, e := range p {
		if e.Size > minSize {
			r = append(r, e)
		}
	}
	return r
}

// MalformedSourceError is returned when a candidate source can't be
// used to build a non-empty pool.
type MalformedSourceError struct {
	Source string
	Reason string
	Err    error
}

func (e *MalformedSourceError) Error() string {
	msg := fmt.Sprintf("candidate source %q: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedSourceError) Unwrap() error {
	return e.Err
}

// Load reads the candidate pool from a Solr JSON file.
func Load(path string) (Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MalformedSourceError{Source: path, Reason: "could not open", Err: err}
	}
	defer f.Close()

	pool, err := Decode(f)
	if err != nil {
		var merr *MalformedSourceError
		if errors.As(err, &merr) {
			merr.Source = path
		}
		return nil, err
	}
	return pool, nil
}

// Decode reads Solr select output ({"response":{"docs":[...]}}) or a
// bare array of docs.
func Decode(r io.Reader) (Pool, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, &MalformedSourceError{Reason: "read error", Err: err}
	}

	b = bytes.TrimSpace(b)
	var pool Pool

	if len(b) > 0 && b[0] == '[' {
		err = json.Unmarshal(b, &pool)
	} else {
		data := struct {
			Response *struct {
				Docs *Pool `json:"docs"`
			} `json:"response"`
		}{}
		err = json.Unmarshal(b, &data)
		if err == nil {
			if data.Response == nil || data.Response.Docs == nil {
				return nil, &MalformedSourceError{Reason: "missing response.docs"}
			}
			pool = *data.Response.Docs
		}
	}
	if err != nil {
		return nil, &MalformedSourceError{Reason: "invalid JSON", Err: err}
	}

	if len(pool) == 0 {
		return nil, &MalformedSourceError{Reason: "no documents"}
	}

	return pool, nil
}
