package server

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContentDisposition builds an attachment header for name. Pure ASCII names
// get a plain quoted filename; anything else gets an ASCII fallback plus an
// RFC 5987 filename* parameter carrying the UTF-8 name.
func ContentDisposition(name string) string {
	if isPlainASCII(name) {
		return `attachment; filename="` + quoteEscape(name) + `"`
	}
	return `attachment; filename="` + quoteEscape(asciiFallback(name)) +
		`"; filename*=UTF-8''` + encodeExtValue(name)
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// asciiFallback drops diacritics and replaces every remaining non-ASCII or
// control character with '?'.
func asciiFallback(name string) string {
	stripped, _, err := transform.String(stripMarks, name)
	if err != nil {
		stripped = name
	}
	var b strings.Builder
	for _, r := range stripped {
		if r < 0x20 || r >= 0x7f {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

const upperhex = "0123456789ABCDEF"

// encodeExtValue percent-encodes every UTF-8 byte outside RFC 5987 attr-char.
func encodeExtValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

// fileStem is the client file name without directories or its final extension.
func fileStem(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// MonoFileName is "<stem>-<lang>.pdf".
func MonoFileName(original, langOut string) string {
	return fileStem(original) + "-" + langOut + ".pdf"
}

// DualFileName is "<stem>-dual-<lang>.pdf".
func DualFileName(original, langOut string) string {
	return fileStem(original) + "-dual-" + langOut + ".pdf"
}
