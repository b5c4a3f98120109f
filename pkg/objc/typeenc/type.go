// Package typeenc parses and renders Objective-C type-encoding strings,
// the compact grammar the runtime uses to describe C/ObjC types
// (e.g. `@"NSString"`, `{CGRect={CGPoint=dd}{CGSize=dd}}`, `v24@0:8@16`).
//
// Parsing never fails hard: malformed or compiler-specific fragments
// degrade to a raw leaf carrying the unparsed text, so one odd encoding
// cannot sink a batch of thousands.
package typeenc

// A Kind tags one variant of the type AST.
type Kind int

const (
	KindUnknown Kind = iota // raw unparsed text in Raw
	KindVoid
	KindChar
	KindUChar
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindLong
	KindULong
	KindLongLong
	KindULongLong
	KindFloat
	KindDouble
	KindLongDouble
	KindBool
	KindCString
	KindID       // optional Name + Protocols
	KindClass
	KindSelector
	KindPointer  // Elem
	KindArray    // Elem + Count
	KindBitfield // Count is the width
	KindBlock
	KindFuncPtr
	KindStruct // Name + Fields
	KindUnion  // Name + Fields
	KindAtom
)

// A Field is one struct/union member; Name is empty when the encoding
// carried no field names.
type Field struct {
	Name string
	Type *Type
}

// A Type is one node of the parsed encoding. It is a closed tagged variant:
// which fields are meaningful depends on Kind. The tree is always acyclic;
// a named struct referring to itself re-encodes the name, never a back edge.
type Type struct {
	Kind      Kind
	Name      string   // struct/union tag, or the class of a typed id
	Protocols []string // adopted protocols of a typed id
	Fields    []Field  // struct/union members
	Elem      *Type    // pointee / array element
	Count     int      // array length or bitfield width
	Quals     []string // method qualifiers (const, in, out, ...)
	Raw       string   // unparsed remainder for KindUnknown
}

var primitiveNames = map[Kind]string{
	KindVoid:       "void",
	KindChar:       "char",
	KindUChar:      "unsigned char",
	KindShort:      "short",
	KindUShort:     "unsigned short",
	KindInt:        "int",
	KindUInt:       "unsigned int",
	KindLong:       "long",
	KindULong:      "unsigned long",
	KindLongLong:   "long long",
	KindULongLong:  "unsigned long long",
	KindFloat:      "float",
	KindDouble:     "double",
	KindLongDouble: "long double",
	KindBool:       "_Bool",
	KindClass:      "Class",
	KindSelector:   "SEL",
	KindAtom:       "atom",
}

// IsPrimitive reports whether the node renders as a bare C type name.
func (t *Type) IsPrimitive() bool {
	_, ok := primitiveNames[t.Kind]
	return ok
}
