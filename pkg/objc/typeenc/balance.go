package typeenc

import "fmt"

// A Mismatch is one bracket-nesting defect found by CheckBalance. Found is
// zero when an opener is never closed.
type Mismatch struct {
	Offset int
	Open   byte
	Found  byte
}

func (m Mismatch) String() string {
	if m.Found == 0 {
		return fmt.Sprintf("unclosed %q at offset %d", m.Open, m.Offset)
	}
	if m.Open == 0 {
		return fmt.Sprintf("unexpected %q at offset %d", m.Found, m.Offset)
	}
	return fmt.Sprintf("%q at offset %d closed by %q", m.Open, m.Offset, m.Found)
}

var closerFor = map[byte]byte{'{': '}', '(': ')', '<': '>'}

// CheckBalance validates `{`/`(`/`<` nesting in an encoding independently
// of semantic parsing. It keeps scanning past defects so one bad encoding
// reports every problem it has, not just the first.
func CheckBalance(s string) []Mismatch {
	s = preprocess(s)
	type open struct {
		ch  byte
		off int
	}
	var stack []open
	var out []Mismatch
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		if _, ok := closerFor[c]; ok {
			stack = append(stack, open{c, i})
			continue
		}
		if c != '}' && c != ')' && c != '>' {
			continue
		}
		if len(stack) == 0 {
			out = append(out, Mismatch{Offset: i, Found: c})
			continue
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if closerFor[top.ch] != c {
			out = append(out, Mismatch{Offset: top.off, Open: top.ch, Found: c})
		}
	}
	for _, o := range stack {
		out = append(out, Mismatch{Offset: o.off, Open: o.ch})
	}
	return out
}
