package fetch

import (
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// minDetectConfidence is the lowest chardet confidence that overrides the
// windows-1252 fallback.
const minDetectConfidence = 50

// toUTF8 decodes an HTML body to UTF-8. The charset comes from a BOM, the
// Content-Type header or a meta tag; when none names one, it is detected
// from the bytes.
func toUTF8(body []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" {
		if r, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && r.Confidence >= minDetectConfidence {
			if e, err := htmlindex.Get(r.Charset); err == nil {
				enc = e
				name, _ = htmlindex.Name(e) //nolint:errcheck // e came from htmlindex
			}
		}
	}
	if name == "utf-8" {
		return body
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
