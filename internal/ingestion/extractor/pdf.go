package extractor

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pageFileRe = regexp.MustCompile(`(\d+)\.txt$`)

// extractPDF dumps each page's content stream with pdfcpu and collects the
// strings shown by text operators. Pages are joined by blank lines.
func extractPDF(raw []byte) (string, error) {
	outDir, err := os.MkdirTemp("", "docrag-pdf-*")
	if err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "pdf", Message: "unable to prepare PDF extraction", Cause: err}
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContent(bytes.NewReader(raw), outDir, "upload", nil, conf); err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "pdf", Message: "unable to open PDF file", Cause: err}
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "pdf", Message: "unable to read PDF content", Cause: err}
	}
	type page struct {
		nr   int
		path string
	}
	pages := make([]page, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		nr, _ := strconv.Atoi(m[1])
		pages = append(pages, page{nr: nr, path: filepath.Join(outDir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].nr < pages[j].nr })

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		content, err := os.ReadFile(p.path)
		if err != nil {
			return "", &Error{Code: ErrorUnreadable, Kind: "pdf", Message: "unable to extract text from one of the PDF pages", Cause: err}
		}
		if t := strings.TrimSpace(contentStreamText(content)); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return "", &Error{Code: ErrorNoText, Kind: "pdf", Message: "the PDF did not contain any extractable text"}
	}
	return strings.Join(texts, "\n\n"), nil
}

// contentStreamText scans a page content stream and returns the operands of
// the text-showing operators (Tj, TJ, ' and "). Text positioning operators
// start a new line.
func contentStreamText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
		inArray bool
	)
	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}
	emit := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		pending = pending[:0]
	}

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case isPDFSpace(c):
			i++
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(stream) && stream[i+1] == '>':
			i += 2
		case c == '<':
			s, next := readHex(stream, i)
			pending = append(pending, s)
			i = next
		case c == '[':
			inArray = true
			pending = pending[:0]
			i++
		case c == ']':
			inArray = false
			i++
		case c == '/':
			i++
			for i < len(stream) && !isPDFSpace(stream[i]) && !isPDFDelim(stream[i]) {
				i++
			}
		default:
			start := i
			for i < len(stream) && !isPDFSpace(stream[i]) && !isPDFDelim(stream[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(stream[start:i])
			if inArray {
				// Large negative kerning inside TJ arrays separates words.
				if n, err := strconv.ParseFloat(tok, 64); err == nil && n < -200 {
					pending = append(pending, " ")
				}
				continue
			}
			if _, err := strconv.ParseFloat(tok, 64); err == nil {
				continue
			}
			switch tok {
			case "Tj", "TJ":
				emit()
			case "'", `"`:
				newline()
				emit()
			case "T*", "Td", "TD", "ET":
				newline()
				pending = pending[:0]
			case "BI":
				if end := bytes.Index(stream[i:], []byte("EI")); end >= 0 {
					i += end + 2
				} else {
					i = len(stream)
				}
				pending = pending[:0]
			default:
				pending = pending[:0]
			}
		}
	}
	return out.String()
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// readLiteral reads a (...) string starting at stream[start] == '('.
func readLiteral(stream []byte, start int) (string, int) {
	var buf []byte
	depth := 0
	i := start
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '(':
			depth++
			if depth > 1 {
				buf = append(buf, c)
			}
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return decodePDFBytes(buf), i
			}
			buf = append(buf, c)
		case '\\':
			i++
			if i >= len(stream) {
				break
			}
			e := stream[i]
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r', '\n':
				if e == '\r' && i+1 < len(stream) && stream[i+1] == '\n' {
					i++
				}
			default:
				if e >= '0' && e <= '7' {
					n := 0
					j := 0
					for j < 3 && i < len(stream) && stream[i] >= '0' && stream[i] <= '7' {
						n = n*8 + int(stream[i]-'0')
						i++
						j++
					}
					buf = append(buf, byte(n))
					continue
				}
				buf = append(buf, e)
			}
			i++
		default:
			buf = append(buf, c)
			i++
		}
	}
	return decodePDFBytes(buf), i
}

// readHex reads a <...> string starting at stream[start] == '<'.
func readHex(stream []byte, start int) (string, int) {
	var digits []byte
	i := start + 1
	for i < len(stream) && stream[i] != '>' {
		c := stream[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		i++
	}
	if i < len(stream) {
		i++
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, 0, len(digits)/2)
	for j := 0; j < len(digits); j += 2 {
		n, _ := strconv.ParseUint(string(digits[j:j+2]), 16, 8)
		buf = append(buf, byte(n))
	}
	return decodePDFBytes(buf), i
}

// decodePDFBytes handles UTF-16BE strings (with BOM) and otherwise treats
// bytes as Latin-1. Control characters other than whitespace are dropped.
func decodePDFBytes(b []byte) string {
	var runes []rune
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for j := 2; j+1 < len(b); j += 2 {
			u = append(u, uint16(b[j])<<8|uint16(b[j+1]))
		}
		runes = utf16.Decode(u)
	} else {
		runes = make([]rune, 0, len(b))
		for _, c := range b {
			runes = append(runes, rune(c))
		}
	}
	var sb strings.Builder
	for _, r := range runes {
		if r == '\n' || r == '\t' || r == ' ' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
