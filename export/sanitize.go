package export

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SecurityMessage is returned when a document carries an entity declaration
// or is encoded in a way the entity scan cannot see through.
const SecurityMessage = "Execution is stopped, the posted SVG could contain code for a malicious attack"

var (
	entityDecl   = regexp.MustCompile(`(?i)<!\s*ENTITY`)
	declEncoding = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*\bencoding\s*=\s*["']([^"']*)["']`)
)

// Encodings in which every ASCII byte stands for itself, so a scan of the
// UTF-8 text sees the same markup the XML parser does.
var asciiCompatible = map[string]bool{
	"utf-8":      true,
	"utf8":       true,
	"us-ascii":   true,
	"ascii":      true,
	"iso-8859-1": true,
	"latin1":     true,
}

// ContainsEntityDecl reports whether doc declares an XML entity. Entity
// declarations are the vector for external-entity and expansion attacks in
// the rasterizer's XML parser; any occurrence rejects the whole document.
func ContainsEntityDecl(doc string) bool {
	return entityDecl.MatchString(doc)
}

// PlainEncoding reports whether doc is text the entity scan can be trusted
// on: valid UTF-8 without NUL bytes (which rules out UTF-16 and UTF-32 with
// or without a byte-order mark) and no XML declaration naming another
// encoding.
func PlainEncoding(doc string) bool {
	if !utf8.ValidString(doc) || strings.IndexByte(doc, 0) >= 0 {
		return false
	}
	doc = strings.TrimPrefix(doc, "\ufeff")
	if m := declEncoding.FindStringSubmatch(doc); m != nil {
		return asciiCompatible[strings.ToLower(strings.TrimSpace(m[1]))]
	}
	return true
}
