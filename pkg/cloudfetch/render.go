package cloudfetch

import (
	"bytes"
	"encoding/json"
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Indent is the indentation used for JSON output.
const Indent = "  "

// Rendered is the decoded form of a payload, ready to print.
type Rendered struct {
	// JSON is true if the payload parsed as JSON and Data holds the
	// re-indented document. Otherwise Data is the payload verbatim.
	JSON bool
	Data []byte
}

// Render decodes body for printing. Valid JSON is always re-indented (key
// order and number literals are kept); any other text passes through
// unchanged. Bytes that are not UTF-8 cannot be printed as text and yield a
// *DecodeError.
func Render(body []byte) (*Rendered, error) {
	if !utf8.Valid(body) {
		return nil, &DecodeError{Err: errors.New("payload is not valid UTF-8 text")}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return &Rendered{JSON: false, Data: body}, nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", Indent); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "re-indent json")}
	}
	return &Rendered{JSON: true, Data: out.Bytes()}, nil
}

// Emit writes the rendered payload in one call.
func (r *Rendered) Emit(w io.Writer) error {
	_, err := w.Write(r.Data)
	return errors.Wrap(err, "write output")
}
