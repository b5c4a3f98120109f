package objc

import (
	"context"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/blacktop/classdump/pkg/macho"
)

const (
	testVMBase   = 0x100004000
	testFileBase = 0x400
)

// imageBuilder bump-allocates ObjC structures into one contiguous region
// that the test wraps in a synthetic __DATA segment.
type imageBuilder struct {
	buf []byte
}

func (b *imageBuilder) nextAddr() uint64 {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	return testVMBase + uint64(len(b.buf))
}

func (b *imageBuilder) place(data []byte) uint64 {
	addr := b.nextAddr()
	b.buf = append(b.buf, data...)
	return addr
}

func (b *imageBuilder) placeString(s string) uint64 {
	return b.place(append([]byte(s), 0))
}

func u32(vals ...uint32) []byte {
	var out []byte
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func u64(vals ...uint64) []byte {
	var out []byte
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, v)
	}
	return out
}

type testSection struct {
	name string
	addr uint64
	size uint64
}

// wrap assembles a thin 64-bit slice whose __DATA segment maps the
// builder's region at testVMBase/testFileBase.
func wrap(t *testing.T, b *imageBuilder, sections []testSection) *macho.File {
	t.Helper()
	le := binary.LittleEndian

	// one covering section maps the whole region; the named list sections
	// overlay parts of it
	sections = append([]testSection{{"__objc_const", testVMBase, uint64(len(b.buf))}}, sections...)
	segSize := 72 + 80*len(sections)
	var cmd []byte
	cmd = le.AppendUint32(cmd, 0x19) // LC_SEGMENT_64
	cmd = le.AppendUint32(cmd, uint32(segSize))
	cmd = append(cmd, pad16("__DATA")...)
	cmd = append(cmd, u64(testVMBase, uint64(len(b.buf)), testFileBase, uint64(len(b.buf)))...)
	cmd = append(cmd, u32(3, 3, uint32(len(sections)), 0)...)
	for _, s := range sections {
		cmd = append(cmd, pad16(s.name)...)
		cmd = append(cmd, pad16("__DATA")...)
		cmd = append(cmd, u64(s.addr, s.size)...)
		fileOff := testFileBase + uint32(s.addr-testVMBase)
		cmd = append(cmd, u32(fileOff, 3, 0, 0, 0, 0, 0, 0)...)
	}

	var data []byte
	data = le.AppendUint32(data, 0xfeedfacf)
	data = le.AppendUint32(data, uint32(macho.CPUArm64))
	data = le.AppendUint32(data, 0)
	data = le.AppendUint32(data, 2) // MH_EXECUTE
	data = le.AppendUint32(data, 1)
	data = le.AppendUint32(data, uint32(len(cmd)))
	data = le.AppendUint32(data, 0)
	data = le.AppendUint32(data, 0)
	data = append(data, cmd...)
	data = append(data, make([]byte, testFileBase-len(data))...)
	data = append(data, b.buf...)

	f, err := macho.NewFile(data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func pad16(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

// buildTestImage lays out one class (with ivar, property, classic instance
// method, small-form class method), one protocol, and one category.
func buildTestImage(t *testing.T) *macho.File {
	b := &imageBuilder{}

	clsName := b.placeString("MyClass")
	selInit := b.placeString("initWithName:")
	typesInit := b.placeString(`@32@0:8@"NSString"16`)
	selShared := b.placeString("shared")
	typesShared := b.placeString("@16@0:8")
	ivarName := b.placeString("_name")
	ivarType := b.placeString(`@"NSString"`)
	propName := b.placeString("count")
	propAttrs := b.placeString("Tq,N,V_count")
	protoName := b.placeString("MyProtocol")
	protoSel := b.placeString("doThing:")
	protoTypes := b.placeString("v24@0:8@16")
	catName := b.placeString("Extras")
	catSel := b.placeString("extraThing")
	catTypes := b.placeString("v16@0:8")

	ivarOffsetSlot := b.place(u32(8))

	// classic instance method list
	instML := b.place(append(u32(24, 1), u64(selInit, typesInit, 0x100001000)...))

	// small-form class method list with direct selectors; the offsets are
	// negative, the strings sit before the list
	listAddr := b.nextAddr()
	entry := listAddr + 8
	small := u32(12|smallMethodListFlag|relativeSelectorsDirectFlag, 1,
		uint32(int32(int64(selShared)-int64(entry))),
		uint32(int32(int64(typesShared)-int64(entry+4))),
		uint32(int32(int64(testVMBase)-int64(entry+8))))
	classML := b.place(small)
	if classML != listAddr {
		t.Fatalf("small list placed at %#x, expected %#x", classML, listAddr)
	}

	ivarList := b.place(append(u32(32, 1), append(u64(ivarOffsetSlot, ivarName, ivarType), u32(3, 8)...)...))
	propList := b.place(append(u32(16, 1), u64(propName, propAttrs)...))

	protoML := b.place(append(u32(24, 1), u64(protoSel, protoTypes, 0)...))
	proto := b.place(u64(0, protoName, 0, protoML, 0, 0, 0, 0, 0))

	metaRO := b.place(append(u32(roMeta, 0, 0, 0), u64(0, clsName, classML, 0, 0, 0, 0)...))
	meta := b.place(u64(0, 0, 0, 0, metaRO))
	clsRO := b.place(append(u32(0, 8, 16, 0), u64(0, clsName, instML, 0, ivarList, 0, propList)...))
	cls := b.place(u64(meta, 0, 0, 0, clsRO))

	catML := b.place(append(u32(24, 1), u64(catSel, catTypes, 0)...))
	cat := b.place(u64(catName, cls, catML, 0, 0, 0, 0, 0))

	imageInfo := b.place(u32(0, 0x0500))
	classlist := b.place(u64(cls))
	protolist := b.place(u64(proto))
	catlist := b.place(u64(cat))

	return wrap(t, b, []testSection{
		{"__objc_imageinfo", imageInfo, 8},
		{"__objc_classlist", classlist, 8},
		{"__objc_protolist", protolist, 8},
		{"__objc_catlist", catlist, 8},
	})
}

func TestProcessSyntheticImage(t *testing.T) {
	md, err := NewProcessor(buildTestImage(t)).Process()
	if err != nil {
		t.Fatal(err)
	}
	if md.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", md.Skipped)
	}
	if md.ImageInfo == nil || md.ImageInfo.SwiftVersion() != 5 {
		t.Errorf("image info = %+v", md.ImageInfo)
	}

	if len(md.Classes) != 1 {
		t.Fatalf("classes = %d, want 1", len(md.Classes))
	}
	cls := md.Classes[0]
	if cls.Name != "MyClass" {
		t.Errorf("class name = %q", cls.Name)
	}
	if cls.SuperClass != "" || cls.SuperAddr != 0 {
		t.Errorf("superclass = %q/%#x, want root", cls.SuperClass, cls.SuperAddr)
	}
	if len(cls.InstanceMethods) != 1 || cls.InstanceMethods[0].Name != "initWithName:" {
		t.Errorf("instance methods = %+v", cls.InstanceMethods)
	}
	if cls.InstanceMethods[0].IMP != 0x100001000 {
		t.Errorf("imp = %#x", cls.InstanceMethods[0].IMP)
	}
	// the small-form list on the metaclass
	if len(cls.ClassMethods) != 1 || cls.ClassMethods[0].Name != "shared" {
		t.Fatalf("class methods = %+v", cls.ClassMethods)
	}
	if cls.ClassMethods[0].Types != "@16@0:8" {
		t.Errorf("class method types = %q", cls.ClassMethods[0].Types)
	}
	if cls.ClassMethods[0].IMP != testVMBase {
		t.Errorf("class method imp = %#x", cls.ClassMethods[0].IMP)
	}
	if len(cls.Ivars) != 1 || cls.Ivars[0].Name != "_name" || cls.Ivars[0].Offset != 8 {
		t.Errorf("ivars = %+v", cls.Ivars)
	}
	if len(cls.Properties) != 1 || cls.Properties[0].Attributes != "Tq,N,V_count" {
		t.Errorf("properties = %+v", cls.Properties)
	}

	if len(md.Protocols) != 1 || md.Protocols[0].Name != "MyProtocol" {
		t.Fatalf("protocols = %+v", md.Protocols)
	}
	if len(md.Protocols[0].InstanceMethods) != 1 || md.Protocols[0].InstanceMethods[0].Name != "doThing:" {
		t.Errorf("protocol methods = %+v", md.Protocols[0].InstanceMethods)
	}

	if len(md.Categories) != 1 {
		t.Fatalf("categories = %+v", md.Categories)
	}
	catg := md.Categories[0]
	if catg.Name != "Extras" || catg.ClassName != "MyClass" {
		t.Errorf("category = %q on %q", catg.Name, catg.ClassName)
	}
	if catg.ClassAddr == 0 {
		t.Error("category class reference should be internal")
	}
}

func TestStreamMatchesBatch(t *testing.T) {
	f := buildTestImage(t)
	batch, err := NewProcessor(f).Process()
	if err != nil {
		t.Fatal(err)
	}

	streamed := &Metadata{}
	err = NewProcessor(f).Stream(context.Background(), func(it Item) error {
		switch it.Phase {
		case "classes":
			streamed.Classes = append(streamed.Classes, it.Class)
		case "protocols":
			streamed.Protocols = append(streamed.Protocols, it.Protocol)
		case "categories":
			streamed.Categories = append(streamed.Categories, it.Category)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(batch.ClassNames(), streamed.ClassNames()) {
		t.Errorf("class sets differ: %v vs %v", batch.ClassNames(), streamed.ClassNames())
	}
	if !reflect.DeepEqual(batch.ProtocolNames(), streamed.ProtocolNames()) {
		t.Errorf("protocol sets differ: %v vs %v", batch.ProtocolNames(), streamed.ProtocolNames())
	}
}

func TestStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProcessor(buildTestImage(t)).Stream(ctx, func(Item) error { return nil })
	if err == nil {
		t.Fatal("cancelled stream returned nil")
	}
}

func TestNoObjCContent(t *testing.T) {
	b := &imageBuilder{}
	b.place(u64(0)) // something for the segment to map
	f := wrap(t, b, nil)
	md, err := NewProcessor(f).Process()
	if err != nil {
		t.Fatal(err)
	}
	if !md.IsEmpty() {
		t.Errorf("metadata not empty: %+v", md)
	}
}

func TestMalformedEntrySkipped(t *testing.T) {
	b := &imageBuilder{}
	// class pointer aiming at an unmapped address
	classlist := b.place(u64(0xdeadbeef000))
	f := wrap(t, b, []testSection{{"__objc_classlist", classlist, 8}})
	md, err := NewProcessor(f).Process()
	if err != nil {
		t.Fatal(err)
	}
	if len(md.Classes) != 0 {
		t.Errorf("classes = %+v, want none", md.Classes)
	}
	if md.Skipped == 0 {
		t.Error("skipped entry not counted")
	}
}

func TestSortedByInheritance(t *testing.T) {
	root := &Class{Name: "Root", Addr: 1}
	mid := &Class{Name: "Mid", Addr: 2, SuperClass: "Root", SuperAddr: 1}
	leaf := &Class{Name: "Leaf", Addr: 3, SuperClass: "Mid", SuperAddr: 2}
	ext := &Class{Name: "Ext", Addr: 4, SuperClass: "NSObject"} // external super

	md := &Metadata{Classes: []*Class{leaf, ext, mid, root}}
	sorted := md.SortedByInheritance()
	pos := map[string]int{}
	for i, c := range sorted.Classes {
		pos[c.Name] = i
	}
	if !(pos["Root"] < pos["Mid"] && pos["Mid"] < pos["Leaf"]) {
		t.Errorf("inheritance order broken: %v", pos)
	}
	if len(sorted.Classes) != 4 {
		t.Errorf("class dropped during sort: %v", pos)
	}
}
