package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDOCX returns the non-empty paragraphs of word/document.xml joined
// by blank lines.
func extractDOCX(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "docx", Message: "unable to open DOCX file", Cause: err}
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "docx", Message: "unable to open DOCX file", Cause: errors.New("missing " + docxBody)}
	}
	rc, err := body.Open()
	if err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "docx", Message: "unable to open DOCX file", Cause: err}
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", &Error{Code: ErrorUnreadable, Kind: "docx", Message: "unable to parse DOCX body", Cause: err}
	}
	if len(paragraphs) == 0 {
		return "", &Error{Code: ErrorNoText, Kind: "docx", Message: "the DOCX document did not contain any text paragraphs"}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// docxParagraphs walks WordprocessingML: text runs (w:t) inside paragraphs
// (w:p), with w:tab and w:br kept as whitespace.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inPara bool
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				if inPara {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(cur.String()); p != "" {
					out = append(out, p)
				}
				inPara = false
				cur.Reset()
			}
		case xml.CharData:
			if inPara && inText {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
