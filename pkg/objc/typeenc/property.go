package typeenc

import (
	"fmt"
	"strings"
)

// A Property is a decoded property attribute string such as `Tq,N,V_count`:
// the backing type encoding plus the comma-separated attribute flags.
type Property struct {
	Encoding  string
	Type      *Type
	ReadOnly  bool
	Copy      bool
	Retain    bool
	Nonatomic bool
	Dynamic   bool
	Weak      bool
	Getter    string
	Setter    string
	IvarName  string
}

// ParseProperty decodes a property attribute string. The type attribute's
// value is itself a type encoding and may contain commas (protocol lists),
// so splitting is nesting-aware.
func ParseProperty(attrs string) (*Property, error) {
	if attrs == "" {
		return nil, fmt.Errorf("empty property attribute string")
	}
	p := &Property{}
	for _, attr := range splitAttrs(attrs) {
		if attr == "" {
			continue
		}
		switch attr[0] {
		case 'T':
			p.Encoding = attr[1:]
			p.Type = Parse(p.Encoding)
		case 'R':
			p.ReadOnly = true
		case 'C':
			p.Copy = true
		case '&':
			p.Retain = true
		case 'N':
			p.Nonatomic = true
		case 'D':
			p.Dynamic = true
		case 'W':
			p.Weak = true
		case 'G':
			p.Getter = attr[1:]
		case 'S':
			p.Setter = strings.TrimSuffix(attr[1:], ":") + ":"
		case 'V':
			p.IvarName = attr[1:]
		case 'P':
			// garbage-collected, obsolete
		default:
			// unknown attribute letters are skipped, not fatal
		}
	}
	if p.Type == nil {
		return nil, fmt.Errorf("property attributes %q carry no type", attrs)
	}
	return p, nil
}

// Attributes renders the flags back in @property(...) order.
func (p *Property) Attributes() []string {
	var out []string
	if p.ReadOnly {
		out = append(out, "readonly")
	}
	if p.Copy {
		out = append(out, "copy")
	}
	if p.Retain {
		out = append(out, "retain")
	}
	if p.Weak {
		out = append(out, "weak")
	}
	if p.Nonatomic {
		out = append(out, "nonatomic")
	}
	if p.Getter != "" {
		out = append(out, "getter="+p.Getter)
	}
	if p.Setter != "" {
		out = append(out, "setter="+p.Setter)
	}
	return out
}

// splitAttrs splits on commas outside quotes and brackets.
func splitAttrs(s string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '{' || c == '(' || c == '[':
			depth++
		case c == '}' || c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
