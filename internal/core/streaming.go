package core

// streaming.go holds byte-level helpers for tabular payloads moving between
// the operator and the backend.
//
//   - cappedReader enforces the upload size limit while the file streams
//     through, so oversize uploads fail without being buffered in full.
//   - cleanText strips a UTF-8 BOM and replaces invalid byte sequences
//     before CSV text is parsed or re-encoded.

import (
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// ErrFileTooLarge is returned when an upload exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cappedReader counts bytes read and fails once more than limit have passed.
type cappedReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func newCappedReader(r io.Reader, limit int64) *cappedReader {
	return &cappedReader{r: r, limit: limit}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, errors.Mark(
			errors.Newf("file too large: more than %d bytes", c.limit), ErrFileTooLarge)
	}
	return n, err
}

// BytesRead returns how many bytes have passed through so far.
func (c *cappedReader) BytesRead() int64 {
	return c.n
}

// cleanText returns data without a leading BOM and with invalid UTF-8
// replaced by U+FFFD. Valid input is returned without copying.
func cleanText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.Write(data[:size])
		}
		data = data[size:]
	}
	return buf.Bytes()
}

// parseCSV reads every record, tolerating ragged rows and stray quotes.
func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(cleanText(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid csv"), ErrMalformedPayload)
	}
	return records, nil
}

// writeCSV encodes records as CSV text.
func writeCSV(records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, errors.Wrap(err, "encode csv")
	}
	return buf.Bytes(), nil
}
