package extractor

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText reads UTF-8 (with or without BOM) and falls back to Latin-1,
// which maps every byte and so never fails.
func decodeText(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), " ")
	}
	return string(out)
}

// extractCSV flattens rows to tab-joined lines.
func extractCSV(raw []byte, delimiter rune) (string, error) {
	r := csv.NewReader(strings.NewReader(decodeText(raw)))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var lines []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &Error{Code: ErrorUnreadable, Kind: "csv", Message: "unable to parse delimited file", Cause: err}
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		lines = append(lines, strings.Join(row, "\t"))
	}
	if len(lines) == 0 {
		return "", &Error{Code: ErrorNoText, Kind: "csv", Message: "the CSV file did not contain any rows"}
	}
	return strings.Join(lines, "\n"), nil
}
