package form

import (
	"regexp"
	"strings"
)

// divider closes every field block in a formatted body.
const divider = "---------"

// emailPattern is a loose local@domain.tld check, not RFC 5322. It accepts
// some invalid addresses (a@b..c) and rejects some valid ones (quoted local
// parts, IP literals, internationalized domains).
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9_.+-]+@[A-Za-z0-9-]+\.[A-Za-z0-9-.]+$`)

// Format renders fields as the plaintext notification body:
//
//	**name**
//	value
//	---------
//
// Values of a multi-valued field are concatenated with no separator. The
// challenge token field is omitted. Values are copied verbatim; the output
// is meant to be read as plain text and must not be rendered as markup.
func Format(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		if f.Name == TokenField {
			continue
		}
		b.WriteString("**")
		b.WriteString(f.Name)
		b.WriteString("**\n")
		for _, v := range f.Values {
			b.WriteString(v)
		}
		b.WriteString("\n")
		b.WriteString(divider)
		b.WriteString("\n")
	}
	return b.String()
}

// ValidEmail reports whether s looks like local-part@domain.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidBody reports whether a formatted body has any content.
func ValidBody(body string) bool {
	return len(body) > 0
}
