package engine

import (
	"encoding/json"
	"time"

	dserrors "github.com/docsql/docsql/internal/errors"
)

// Result is the outcome of one statement. A failed statement carries the
// category, code and text of its error and no rows.
type Result struct {
	Statement string        `json:"statement"`
	Message   string        `json:"message,omitempty"`
	Columns   []string      `json:"columns,omitempty"`
	Rows      [][]any       `json:"rows,omitempty"`
	Category  string        `json:"error_category,omitempty"`
	Code      string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"-"`

	err error
}

// Failed reports whether the statement returned an error.
func (r Result) Failed() bool {
	return r.err != nil
}

// Err returns the statement's error, if any.
func (r Result) Err() error {
	return r.err
}

func (r *Result) fail(err error) {
	r.err = err
	r.Category = string(dserrors.GetCategory(err))
	r.Code = dserrors.GetCode(err)
	r.Error = err.Error()
	r.Message = ""
	r.Columns = nil
	r.Rows = nil
}

// MarshalJSON adds the elapsed time in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		ElapsedMs float64 `json:"elapsed_ms"`
	}{plain(r), float64(r.Elapsed.Microseconds()) / 1000})
}
