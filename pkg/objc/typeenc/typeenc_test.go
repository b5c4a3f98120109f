package typeenc

import (
	"testing"
)

func TestFormatVariable(t *testing.T) {
	tests := []struct {
		enc  string
		name string
		want string
	}{
		{`@"NSString"`, "_name", "NSString *_name"},
		{`@"NSString"`, "", "NSString *"},
		{`@`, "obj", "id obj"},
		{`@"<NSCopying>"`, "delegate", "id <NSCopying> delegate"},
		{`@"NSObject<NSCopying, NSCoding>"`, "o", "NSObject<NSCopying, NSCoding> *o"},
		{`q`, "_count", "long long _count"},
		{`Q`, "x", "unsigned long long x"},
		{`i`, "n", "int n"},
		{`B`, "flag", "_Bool flag"},
		{`*`, "cstr", "char *cstr"},
		{`#`, "cls", "Class cls"},
		{`:`, "sel", "SEL sel"},
		{`^v`, "ptr", "void *ptr"},
		{`^^c`, "pp", "char **pp"},
		{`r^v`, "p", "const void *p"},
		{`[32c]`, "buf", "char buf[32]"},
		{`^[8i]`, "p", "int (*p)[8]"},
		{`b3`, "flags", "unsigned int flags:3"},
		{`{CGPoint=dd}`, "origin", "CGPoint origin"},
		{`{_NSRange=QQ}`, "range", "NSRange range"},
		{`^{__CFString=}`, "s", "struct __CFString *s"},
		{`{?=ii}`, "pair", "struct { int; int; } pair"},
		{`(?=ic)`, "u", "union { int; char; } u"},
		{`@?`, "handler", "CDUnknownBlockType handler"},
		{`^?`, "fn", "CDUnknownFunctionPointerType fn"},
	}
	f := &Formatter{}
	for _, tt := range tests {
		got := f.FormatVariable(tt.name, Parse(tt.enc))
		if got != tt.want {
			t.Errorf("FormatVariable(%q, %q) = %q, want %q", tt.name, tt.enc, got, tt.want)
		}
	}
}

func TestFormatMethod(t *testing.T) {
	f := &Formatter{}
	tests := []struct {
		sel   string
		enc   string
		class bool
		want  string
	}{
		{"setObject:forKey:", "v32@0:8@16@24", false,
			"- (void)setObject:(id)arg1 forKey:(id)arg2;"},
		{"setFoo:", "v24@0:8@16", false, "- (void)setFoo:(id)arg1;"},
		{"count", "Q16@0:8", false, "- (unsigned long long)count;"},
		{"copy", "@16@0:8", false, "- (id)copy;"},
		{"sharedInstance", "@16@0:8", true, "+ (id)sharedInstance;"},
		{"initWithName:length:", `@32@0:8@"NSString"16q24`, false,
			"- (id)initWithName:(NSString *)arg1 length:(long long)arg2;"},
	}
	for _, tt := range tests {
		got := f.FormatMethod(tt.sel, tt.enc, tt.class)
		if got != tt.want {
			t.Errorf("FormatMethod(%q, %q) = %q, want %q", tt.sel, tt.enc, got, tt.want)
		}
	}
}

func TestMethodSigHiddenArgs(t *testing.T) {
	sig, err := ParseMethod("v24@0:8@16")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Return.Kind != KindVoid {
		t.Errorf("return kind = %v, want void", sig.Return.Kind)
	}
	if sig.StackSize != 24 {
		t.Errorf("stack size = %d, want 24", sig.StackSize)
	}
	// self, _cmd, then exactly one visible argument
	if len(sig.Args) != 3 {
		t.Fatalf("args = %d, want 3", len(sig.Args))
	}
	if sig.Args[0].Type.Kind != KindID || sig.Args[1].Type.Kind != KindSelector {
		t.Error("hidden self/_cmd not decoded")
	}
	if sig.Args[2].Offset != 16 {
		t.Errorf("visible arg offset = %d, want 16", sig.Args[2].Offset)
	}
}

func TestParseProperty(t *testing.T) {
	p, err := ParseProperty("Tq,N,V_count")
	if err != nil {
		t.Fatal(err)
	}
	if p.ReadOnly {
		t.Error("readonly should be false")
	}
	if !p.Nonatomic {
		t.Error("nonatomic should be true")
	}
	if p.IvarName != "_count" {
		t.Errorf("ivar = %q, want _count", p.IvarName)
	}
	if p.Type.Kind != KindLongLong {
		t.Errorf("type kind = %v, want long long", p.Type.Kind)
	}

	p, err = ParseProperty(`T@"NSObject<A,B>",R,C,Gfancy,V_obj`)
	if err != nil {
		t.Fatal(err)
	}
	if !p.ReadOnly || !p.Copy {
		t.Error("readonly/copy flags lost")
	}
	if p.Getter != "fancy" {
		t.Errorf("getter = %q", p.Getter)
	}
	// the protocol-list comma must not split the type attribute
	if p.Type.Name != "NSObject" || len(p.Type.Protocols) != 2 {
		t.Errorf("type = %+v", p.Type)
	}
}

func TestParseDegradesGracefully(t *testing.T) {
	for _, enc := range []string{"!!!", "{broken", "[12", "@¢", "^", ""} {
		tp := Parse(enc)
		if tp == nil {
			t.Fatalf("Parse(%q) returned nil", enc)
		}
	}
	// garbage must surface as an unknown leaf, never a bogus parse
	if tp := Parse("{broken"); !tp.HasUnknown() {
		t.Error("unterminated struct parsed as valid")
	}
}

func TestStructFieldNameAmbiguity(t *testing.T) {
	// the quoted string after @ names the NEXT field here
	tp := Parse(`{foo="a"@"b"i}`)
	if tp.Kind != KindStruct || len(tp.Fields) != 2 {
		t.Fatalf("parsed %+v", tp)
	}
	if tp.Fields[0].Name != "a" || tp.Fields[0].Type.Kind != KindID || tp.Fields[0].Type.Name != "" {
		t.Errorf("field 0 = %+v", tp.Fields[0])
	}
	if tp.Fields[1].Name != "b" || tp.Fields[1].Type.Kind != KindInt {
		t.Errorf("field 1 = %+v", tp.Fields[1])
	}

	// but at the end of the struct it is a class name
	tp = Parse(`{foo="s"@"NSString"}`)
	if len(tp.Fields) != 1 || tp.Fields[0].Type.Name != "NSString" {
		t.Errorf("parsed %+v", tp)
	}
}

func TestNestedStructs(t *testing.T) {
	tp := Parse(`{CGRect={CGPoint=dd}{CGSize=dd}}`)
	if tp.Kind != KindStruct || tp.Name != "CGRect" || len(tp.Fields) != 2 {
		t.Fatalf("parsed %+v", tp)
	}
	if tp.Fields[0].Type.Name != "CGPoint" || tp.Fields[1].Type.Name != "CGSize" {
		t.Errorf("nested names = %q, %q", tp.Fields[0].Type.Name, tp.Fields[1].Type.Name)
	}
	f := &Formatter{}
	if got := f.FormatVariable("_frame", tp); got != "CGRect _frame" {
		t.Errorf("FormatVariable = %q", got)
	}
}

func TestUnnamedNamespaceQuirk(t *testing.T) {
	// "<unnamed>::" would otherwise read as an unterminated template list
	tp := Parse("{Outer<unnamed>::Inner=i}")
	if tp.HasUnknown() {
		t.Errorf("anonymous-namespace tag failed to parse: %+v", tp)
	}
}

func TestCheckBalance(t *testing.T) {
	if got := CheckBalance(`{CGRect={CGPoint=dd}{CGSize=dd}}`); len(got) != 0 {
		t.Errorf("balanced encoding reported %v", got)
	}
	got := CheckBalance("{A=(B=i}")
	if len(got) == 0 {
		t.Fatal("mismatch not reported")
	}
	// scanning continues after the defect
	got = CheckBalance("{A=(B=i} {C=i}")
	var unclosed int
	for _, m := range got {
		if m.Found == 0 {
			unclosed++
		}
	}
	if len(got) < 2 {
		t.Errorf("later defects not reported: %v", got)
	}
	_ = unclosed
	if got := CheckBalance(")"); len(got) != 1 || got[0].Found != ')' {
		t.Errorf("stray closer: %v", got)
	}
}

func TestQualifiers(t *testing.T) {
	tp := Parse("Vv")
	if tp.Kind != KindVoid || len(tp.Quals) != 1 || tp.Quals[0] != "oneway" {
		t.Errorf("parsed %+v", tp)
	}
	f := &Formatter{}
	if got := f.FormatType(Parse("r*")); got != "const char *" {
		t.Errorf("const cstring = %q", got)
	}
}
