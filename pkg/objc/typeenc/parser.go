package typeenc

import (
	"fmt"
	"strconv"
	"strings"
)

// method qualifier codes, in encoding order
var qualNames = map[byte]string{
	'r': "const",
	'n': "in",
	'N': "inout",
	'o': "out",
	'O': "bycopy",
	'R': "byref",
	'V': "oneway",
	'A': "_Atomic",
}

var primitiveKinds = map[byte]Kind{
	'c': KindChar,
	'C': KindUChar,
	's': KindShort,
	'S': KindUShort,
	'i': KindInt,
	'I': KindUInt,
	'l': KindLong,
	'L': KindULong,
	'q': KindLongLong,
	'Q': KindULongLong,
	'f': KindFloat,
	'd': KindDouble,
	'D': KindLongDouble,
	'B': KindBool,
	'v': KindVoid,
	'*': KindCString,
	'#': KindClass,
	':': KindSelector,
	'%': KindAtom,
}

type parser struct {
	lex *lexer
}

// Parse decodes a single type encoding. It never fails: anything it cannot
// make sense of comes back as a KindUnknown node carrying the raw text, so
// the caller can degrade to a warning instead of dropping the batch.
func Parse(s string) *Type {
	p := &parser{lex: newLexer(s)}
	t := p.parseType(false)
	if !p.lex.eof() {
		// trailing garbage taints the whole encoding
		return &Type{Kind: KindUnknown, Raw: s}
	}
	return t
}

// A MethodArg is one argument of a method encoding, with its stack offset.
type MethodArg struct {
	Type   *Type
	Offset int
}

// A MethodSig is a parsed method encoding such as `v24@0:8@16`: return
// type, total stack size, then each argument with its offset. The first
// two arguments are the implicit self and _cmd.
type MethodSig struct {
	Return    *Type
	StackSize int
	Args      []MethodArg
}

// HiddenArgs is the number of implicit leading arguments (self, _cmd).
const HiddenArgs = 2

// ParseMethod decodes a full method type encoding.
func ParseMethod(s string) (*MethodSig, error) {
	if s == "" {
		return nil, fmt.Errorf("empty method encoding")
	}
	p := &parser{lex: newLexer(s)}
	sig := &MethodSig{Return: p.parseType(false)}
	sig.StackSize = p.number()
	for !p.lex.eof() {
		arg := MethodArg{Type: p.parseType(false)}
		arg.Offset = p.number()
		sig.Args = append(sig.Args, arg)
		if arg.Type.Kind == KindUnknown {
			break
		}
	}
	return sig, nil
}

func (p *parser) number() int {
	save := p.lex.pos
	t := p.lex.next()
	if t.kind != tokNumber {
		p.lex.pos = save
		return 0
	}
	n, _ := strconv.Atoi(t.text)
	return n
}

// unknownRest consumes everything left into a raw leaf.
func (p *parser) unknownRest(from int) *Type {
	raw := p.lex.s[from:]
	p.lex.pos = len(p.lex.s)
	return &Type{Kind: KindUnknown, Raw: raw}
}

// parseType reads one type production. inField adjusts the `@"..."`
// ambiguity inside struct bodies, where a quoted string after an object
// reference may actually be the next field's name.
func (p *parser) parseType(inField bool) *Type {
	var quals []string
	for {
		c := p.lex.peek()
		if name, ok := qualNames[c]; ok {
			// 'V' and friends double as qualifiers only before a type code
			p.lex.next()
			quals = append(quals, name)
			continue
		}
		break
	}
	t := p.parseBareType(inField)
	if len(quals) > 0 && t.Kind != KindUnknown {
		t.Quals = quals
	}
	return t
}

func (p *parser) parseBareType(inField bool) *Type {
	start := p.lex.pos
	tok := p.lex.next()
	if tok.kind == tokEOF {
		return &Type{Kind: KindUnknown}
	}
	if tok.kind != tokChar {
		return p.unknownRest(start)
	}

	if kind, ok := primitiveKinds[tok.ch]; ok {
		return &Type{Kind: kind}
	}

	switch tok.ch {
	case '@':
		return p.parseObject(inField)
	case '^':
		if p.lex.accept('?') {
			return &Type{Kind: KindFuncPtr}
		}
		return &Type{Kind: KindPointer, Elem: p.parseType(false)}
	case 'b':
		width := p.number()
		if width <= 0 {
			return p.unknownRest(start)
		}
		return &Type{Kind: KindBitfield, Count: width}
	case '[':
		count := p.number()
		elem := p.parseType(false)
		if !p.lex.accept(']') {
			return p.unknownRest(start)
		}
		return &Type{Kind: KindArray, Count: count, Elem: elem}
	case '{':
		return p.parseRecord(KindStruct, '}', start)
	case '(':
		return p.parseRecord(KindUnion, ')', start)
	}
	return p.unknownRest(start)
}

func (p *parser) parseObject(inField bool) *Type {
	if p.lex.accept('?') {
		return &Type{Kind: KindBlock}
	}
	if p.lex.peek() != '"' {
		return &Type{Kind: KindID}
	}
	save := p.lex.pos
	tok := p.lex.next() // quoted string
	if c := p.lex.peek(); inField && c != '"' && c != '}' && c != ')' && c != 0 {
		// the quoted string is the next field's name, not a class name
		p.lex.pos = save
		return &Type{Kind: KindID}
	}
	name, protos := splitProtocols(tok.text)
	return &Type{Kind: KindID, Name: name, Protocols: protos}
}

// splitProtocols separates "NSObject<NSCopying,NSCoding>" into the class
// name and its protocol list; a bare "<NSCopying>" has no class name.
func splitProtocols(s string) (string, []string) {
	i := strings.IndexByte(s, '<')
	if i < 0 {
		return s, nil
	}
	name := s[:i]
	list := strings.TrimSuffix(s[i+1:], ">")
	var protos []string
	for _, pr := range strings.Split(list, ",") {
		if pr = strings.TrimSpace(pr); pr != "" {
			protos = append(protos, pr)
		}
	}
	return name, protos
}

func (p *parser) parseRecord(kind Kind, closer byte, start int) *Type {
	t := &Type{Kind: kind}
	t.Name = p.recordTag()
	if t.Name == "?" {
		t.Name = ""
	}
	if p.lex.accept('=') {
		for {
			c := p.lex.peek()
			if c == 0 {
				return p.unknownRest(start)
			}
			if c == closer {
				break
			}
			var f Field
			if c == '"' {
				tok := p.lex.next()
				f.Name = tok.text
			}
			f.Type = p.parseType(true)
			t.Fields = append(t.Fields, f)
			if f.Type.Kind == KindUnknown {
				return p.unknownRest(start)
			}
		}
	}
	if !p.lex.accept(closer) {
		return p.unknownRest(start)
	}
	return t
}

// recordTag reads a struct/union tag in identifier state, including any
// C++ template argument suffix, which is carried verbatim in the name.
func (p *parser) recordTag() string {
	p.lex.state = stateIdentifier
	defer func() { p.lex.state = stateNormal }()

	if p.lex.accept('?') {
		return "?"
	}
	save := p.lex.pos
	tok := p.lex.next()
	if tok.kind != tokIdent {
		p.lex.pos = save
		return ""
	}
	name := tok.text
	if p.lex.peek() == '<' {
		name += p.templateSuffix()
	}
	return name
}

// templateSuffix consumes a balanced `<...>` run verbatim.
func (p *parser) templateSuffix() string {
	p.lex.state = stateTemplateTypes
	start := p.lex.pos
	depth := 0
	for !p.lex.eof() {
		switch p.lex.s[p.lex.pos] {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				p.lex.pos++
				return p.lex.s[start:p.lex.pos]
			}
		}
		p.lex.pos++
	}
	return p.lex.s[start:]
}

// HasUnknown reports whether any node of the tree failed to parse.
func (t *Type) HasUnknown() bool {
	if t == nil {
		return false
	}
	if t.Kind == KindUnknown {
		return true
	}
	if t.Elem.HasUnknown() {
		return true
	}
	for _, f := range t.Fields {
		if f.Type.HasUnknown() {
			return true
		}
	}
	return false
}
