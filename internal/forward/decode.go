package forward

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
)

// errorSnippet turns an upstream error body into a short readable
// string for the request log, decompressing gzip and brotli bodies
// first. The body relayed to the client is never the decoded form.
func errorSnippet(contentEncoding string, body []byte) string {
	data := body
	switch strings.ToLower(contentEncoding) {
	case "gzip":
		if zr, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			if decompressed, err := io.ReadAll(zr); err == nil {
				data = decompressed
			}
			_ = zr.Close()
		}
	case "br":
		if decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body))); err == nil {
			data = decompressed
		}
	}

	if !utf8.Valid(data) {
		return "upstream returned a non-text error body"
	}
	s := strings.TrimSpace(string(data))
	if len(s) > errorSnippetLimit {
		s = s[:errorSnippetLimit]
	}
	return s
}
