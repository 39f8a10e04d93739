package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// windows device names that must not be used as a bare file name
var reservedNames = map[string]bool{
	"CON": true, "AUX": true, "COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "PRN": true, "NUL": true,
}

// SecureFilename reduces a client supplied file name to ASCII letters,
// digits, '_', '-' and '.', with no directory components. The result may be
// empty.
func SecureFilename(name string) string {
	ascii, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), name)
	if err != nil {
		ascii = name
	}

	ascii = strings.NewReplacer("/", " ", "\\", " ").Replace(ascii)

	var b strings.Builder
	for i, field := range strings.Fields(ascii) {
		if i > 0 {
			b.WriteByte('_')
		}
		for _, r := range field {
			if r < unicode.MaxASCII && (r == '_' || r == '-' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
				b.WriteRune(r)
			}
		}
	}

	clean := strings.Trim(b.String(), "._")
	if reservedNames[strings.ToUpper(strings.SplitN(clean, ".", 2)[0])] {
		clean = "_" + clean
	}
	return clean
}
