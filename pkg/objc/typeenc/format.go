package typeenc

import (
	"fmt"
	"strconv"
	"strings"
)

// Options control struct/union rendering. Anonymous records always render
// their field list inline (there is nothing else to print for them).
type Options struct {
	// Expand prints named struct/union bodies inline instead of
	// `struct Name`.
	Expand bool
	// AutoExpand expands only records whose fields carry names, the ones
	// that read well inline.
	AutoExpand bool
}

// wellKnownRecords maps encoded tags of common Foundation/CoreGraphics
// records to their typedef spelling, so ivars read `CGRect _frame` instead
// of `struct CGRect _frame`.
var wellKnownRecords = map[string]string{
	"CGPoint":           "CGPoint",
	"CGSize":            "CGSize",
	"CGRect":            "CGRect",
	"CGAffineTransform": "CGAffineTransform",
	"NSRange":           "NSRange",
	"_NSRange":          "NSRange",
	"_NSZone":           "NSZone",
	"NSEdgeInsets":      "NSEdgeInsets",
	"UIEdgeInsets":      "UIEdgeInsets",
}

// A Formatter renders type ASTs as C/Objective-C declarations.
type Formatter struct {
	Opts Options
}

// FormatVariable renders a declaration for name, e.g. `NSString *_name` or
// `char _buf[32]`. No trailing semicolon; the caller owns statement
// punctuation.
func (f *Formatter) FormatVariable(name string, t *Type) string {
	return strings.TrimRight(f.format(t, name), " ")
}

// FormatType renders the bare type, e.g. `unsigned long long`.
func (f *Formatter) FormatType(t *Type) string {
	return strings.TrimRight(f.format(t, ""), " ")
}

func (f *Formatter) format(t *Type, inner string) string {
	if t == nil {
		return inner
	}
	var base string
	switch {
	case t.IsPrimitive():
		base = primitiveNames[t.Kind]
	default:
		switch t.Kind {
		case KindCString:
			return f.qual(t) + joinDecl("char", "*"+inner)
		case KindID:
			return f.qual(t) + f.formatObject(t, inner)
		case KindPointer:
			if t.Elem != nil && (t.Elem.Kind == KindArray || t.Elem.Kind == KindFuncPtr) {
				return f.qual(t) + f.format(t.Elem, "(*"+inner+")")
			}
			return f.qual(t) + f.format(t.Elem, "*"+inner)
		case KindArray:
			return f.qual(t) + f.format(t.Elem, inner+"["+strconv.Itoa(t.Count)+"]")
		case KindBitfield:
			return joinDecl("unsigned int", inner) + ":" + strconv.Itoa(t.Count)
		case KindBlock:
			base = "CDUnknownBlockType"
		case KindFuncPtr:
			base = "CDUnknownFunctionPointerType"
		case KindStruct:
			return f.qual(t) + f.formatRecord(t, "struct", inner)
		case KindUnion:
			return f.qual(t) + f.formatRecord(t, "union", inner)
		case KindUnknown:
			base = t.Raw
		default:
			base = "?"
		}
	}
	return f.qual(t) + joinDecl(base, inner)
}

func (f *Formatter) qual(t *Type) string {
	if len(t.Quals) == 0 {
		return ""
	}
	return strings.Join(t.Quals, " ") + " "
}

func (f *Formatter) formatObject(t *Type, inner string) string {
	switch {
	case t.Name == "" && len(t.Protocols) == 0:
		return joinDecl("id", inner)
	case t.Name == "":
		return joinDecl("id <"+strings.Join(t.Protocols, ", ")+">", inner)
	case len(t.Protocols) == 0:
		return joinDecl(t.Name, "*"+inner)
	}
	return joinDecl(t.Name+"<"+strings.Join(t.Protocols, ", ")+">", "*"+inner)
}

func (f *Formatter) formatRecord(t *Type, keyword, inner string) string {
	if name, ok := wellKnownRecords[t.Name]; ok && !f.Opts.Expand {
		return joinDecl(name, inner)
	}
	expand := t.Name == "" || f.Opts.Expand ||
		(f.Opts.AutoExpand && fieldsNamed(t.Fields))
	if !expand || len(t.Fields) == 0 {
		if t.Name == "" {
			return joinDecl(keyword+" { }", inner)
		}
		return joinDecl(keyword+" "+t.Name, inner)
	}
	var b strings.Builder
	b.WriteString(keyword)
	if t.Name != "" {
		b.WriteString(" " + t.Name)
	}
	b.WriteString(" { ")
	for i, fld := range t.Fields {
		name := fld.Name
		if name == "" && fieldsNamed(t.Fields) {
			name = "field" + strconv.Itoa(i)
		}
		b.WriteString(f.FormatVariable(name, fld.Type))
		b.WriteString("; ")
	}
	b.WriteString("}")
	return joinDecl(b.String(), inner)
}

func fieldsNamed(fields []Field) bool {
	for _, f := range fields {
		if f.Name == "" {
			return false
		}
	}
	return len(fields) > 0
}

// joinDecl glues a base type onto a declarator, keeping the `Type *name`
// pointer spacing convention.
func joinDecl(base, inner string) string {
	if inner == "" {
		return base
	}
	return base + " " + inner
}

// FormatMethod renders a full method declaration from a selector and its
// type encoding, zipping the selector's colon-separated parts with the
// argument types and skipping the implicit self/_cmd pair:
//
//	FormatMethod("setObject:forKey:", "v32@0:8@16@24", false)
//	  = `- (void)setObject:(id)arg1 forKey:(id)arg2;`
func (f *Formatter) FormatMethod(selector, encoded string, classMethod bool) string {
	sig, err := ParseMethod(encoded)
	if err != nil || sig.Return.HasUnknown() {
		return fmt.Sprintf("// Error parsing type: %s, name: %s", encoded, selector)
	}
	prefix := "-"
	if classMethod {
		prefix = "+"
	}
	ret := f.FormatType(sig.Return)

	args := sig.Args
	if len(args) > HiddenArgs {
		args = args[HiddenArgs:]
	} else {
		args = nil
	}

	if !strings.Contains(selector, ":") {
		return fmt.Sprintf("%s (%s)%s;", prefix, ret, selector)
	}

	parts := strings.Split(selector, ":")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", prefix, ret)
	for i, part := range parts {
		if i > 0 {
			b.WriteString(" ")
		}
		argType := "id"
		if i < len(args) {
			argType = f.FormatType(args[i].Type)
		}
		fmt.Fprintf(&b, "%s:(%s)arg%d", part, argType, i+1)
	}
	b.WriteString(";")
	return b.String()
}
