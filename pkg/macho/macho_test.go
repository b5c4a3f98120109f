package macho

import (
	"encoding/binary"
	"errors"
	"testing"
)

func thinHeader64(cpu CPU, sub CPUSubtype, ncmds, sizeofcmds uint32) []byte {
	var b []byte
	le := binary.LittleEndian
	b = le.AppendUint32(b, Magic64)
	b = le.AppendUint32(b, uint32(cpu))
	b = le.AppendUint32(b, uint32(sub))
	b = le.AppendUint32(b, uint32(TypeExec))
	b = le.AppendUint32(b, ncmds)
	b = le.AppendUint32(b, sizeofcmds)
	b = le.AppendUint32(b, 0) // flags
	b = le.AppendUint32(b, 0) // reserved
	return b
}

func name16(s string) []byte {
	b := make([]byte, 16)
	copy(b, s)
	return b
}

// buildThinWithText builds a 64-bit LE slice with one __TEXT segment holding
// one __text section at vm 0x100000400 / file 0x190.
func buildThinWithText(t *testing.T) []byte {
	t.Helper()
	le := binary.LittleEndian
	var cmd []byte
	cmd = le.AppendUint32(cmd, uint32(LoadCmdSegment64))
	cmd = le.AppendUint32(cmd, segCmdSize64+sectSize64)
	cmd = append(cmd, name16("__TEXT")...)
	cmd = le.AppendUint64(cmd, 0x100000000) // vmaddr
	cmd = le.AppendUint64(cmd, 0x1000)      // vmsize
	cmd = le.AppendUint64(cmd, 0)           // fileoff
	cmd = le.AppendUint64(cmd, 0x400)       // filesize
	cmd = le.AppendUint32(cmd, 7)           // maxprot
	cmd = le.AppendUint32(cmd, 5)           // initprot
	cmd = le.AppendUint32(cmd, 1)           // nsects
	cmd = le.AppendUint32(cmd, 0)           // flags
	cmd = append(cmd, name16("__text")...)
	cmd = append(cmd, name16("__TEXT")...)
	cmd = le.AppendUint64(cmd, 0x100000190) // addr
	cmd = le.AppendUint64(cmd, 0x40)        // size
	cmd = le.AppendUint32(cmd, 0x190)       // offset
	cmd = le.AppendUint32(cmd, 4)           // align
	cmd = le.AppendUint32(cmd, 0)           // reloff
	cmd = le.AppendUint32(cmd, 0)           // nreloc
	cmd = le.AppendUint32(cmd, 0)           // flags
	cmd = le.AppendUint32(cmd, 0)
	cmd = le.AppendUint32(cmd, 0)
	cmd = le.AppendUint32(cmd, 0)

	data := thinHeader64(CPUAmd64, CPUSubtypeX86_64All, 1, uint32(len(cmd)))
	data = append(data, cmd...)
	pad := make([]byte, 0x400-len(data))
	data = append(data, pad...)
	copy(data[0x190:], "\xc3hello\x00")
	return data
}

func TestThinParse(t *testing.T) {
	f, err := NewFile(buildThinWithText(t))
	if err != nil {
		t.Fatal(err)
	}
	if !f.Is64bit() {
		t.Error("slice should be 64-bit")
	}
	if got := f.Arch().String(); got != "x86_64" {
		t.Errorf("arch = %q, want x86_64", got)
	}
	seg := f.Segment("__TEXT")
	if seg == nil {
		t.Fatal("__TEXT segment missing")
	}
	if len(seg.Sections) != 1 || seg.Sections[0].Name != "__text" {
		t.Fatalf("sections = %v", seg.Sections)
	}
	off, ok := f.GetOffset(0x100000195)
	if !ok || off != 0x195 {
		t.Errorf("GetOffset = %#x, %v; want 0x195, true", off, ok)
	}
	s, err := f.GetCString(0x100000191)
	if err != nil || s != "hello" {
		t.Errorf("GetCString = %q, %v", s, err)
	}
	if f.Section("__TEXT", "__nope") != nil {
		t.Error("lookup of absent section succeeded")
	}
}

func TestLoadCommandTooSmall(t *testing.T) {
	le := binary.LittleEndian
	var cmd []byte
	cmd = le.AppendUint32(cmd, uint32(LoadCmdUUID))
	cmd = le.AppendUint32(cmd, 8) // below the 24-byte uuid_command layout
	data := thinHeader64(CPUAmd64, CPUSubtypeX86_64All, 1, uint32(len(cmd)))
	data = append(data, cmd...)

	_, err := NewFile(data)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestSectionOutsideSegmentRejected(t *testing.T) {
	data := buildThinWithText(t)
	// move the section's vm range past the end of the segment
	sectAddrOff := 32 + 8 + segCmdSize64 + 32 - 8 // header + cmd prefix + seg fields + names
	binary.LittleEndian.PutUint64(data[sectAddrOff:], 0x100002000)

	if _, err := NewFile(data); err == nil {
		t.Fatal("section outside segment range accepted")
	}
}

func buildFat(t *testing.T, slices ...[]byte) []byte {
	t.Helper()
	be := binary.BigEndian
	const hdrEnd = 0x40
	var b []byte
	b = be.AppendUint32(b, MagicFat)
	b = be.AppendUint32(b, uint32(len(slices)))
	off := uint32(hdrEnd)
	for _, s := range slices {
		cpu := binary.LittleEndian.Uint32(s[4:])
		sub := binary.LittleEndian.Uint32(s[8:])
		b = be.AppendUint32(b, cpu)
		b = be.AppendUint32(b, sub)
		b = be.AppendUint32(b, off)
		b = be.AppendUint32(b, uint32(len(s)))
		b = be.AppendUint32(b, 2)
		off += uint32(len(s))
	}
	b = append(b, make([]byte, hdrEnd-len(b))...)
	for _, s := range slices {
		b = append(b, s...)
	}
	return b
}

func TestFatBestMatch(t *testing.T) {
	data := buildFat(t,
		thinHeader64(CPUAmd64, CPUSubtypeX86_64All, 0, 0),
		thinHeader64(CPUArm64, CPUSubtypeArm64All, 0, 0),
	)
	ff, err := NewFatFile(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(ff.Arches) != 2 {
		t.Fatalf("arches = %d, want 2", len(ff.Arches))
	}
	f, err := ff.BestMatch(Arch{CPUAmd64, CPUSubtypeX86_64All})
	if err != nil {
		t.Fatal(err)
	}
	if f.CPU != CPUAmd64 {
		t.Errorf("best match picked %s", f.Arch())
	}
	// subtype capability bits must not defeat the match
	f, err = ff.BestMatch(Arch{CPUArm64, CPUSubtypeArm64All | CPUSubtypeLib64})
	if err != nil || f.CPU != CPUArm64 {
		t.Errorf("masked match = %v, %v", f, err)
	}
}

func TestFatArchNotFound(t *testing.T) {
	data := buildFat(t,
		thinHeader64(CPUAmd64, CPUSubtypeX86_64All, 0, 0),
		thinHeader64(CPUArm64, CPUSubtypeArm64All, 0, 0),
	)
	ff, err := NewFatFile(data)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ff.SliceFor("i386")
	var anf *ErrArchNotFound
	if !errors.As(err, &anf) {
		t.Fatalf("expected ErrArchNotFound, got %v", err)
	}
	if anf.Arch != "i386" {
		t.Errorf("error names %q, want i386", anf.Arch)
	}
}

func TestFatRangeOutsideFile(t *testing.T) {
	data := buildFat(t, thinHeader64(CPUArm64, CPUSubtypeArm64All, 0, 0))
	binary.BigEndian.PutUint32(data[16:], 0xffff0000) // slice size
	if _, err := NewFatFile(data); err == nil {
		t.Fatal("fat arch range outside file accepted")
	}
}

func TestParseDispatch(t *testing.T) {
	thin, err := Parse(buildThinWithText(t))
	if err != nil || thin.Thin == nil || thin.Fat != nil {
		t.Fatalf("thin dispatch failed: %+v, %v", thin, err)
	}
	fat, err := Parse(buildFat(t, thinHeader64(CPUArm64, CPUSubtypeArm64All, 0, 0)))
	if err != nil || fat.Fat == nil {
		t.Fatalf("fat dispatch failed: %+v, %v", fat, err)
	}
	if _, err := Parse([]byte("not a macho")); !errors.Is(err, ErrNotMacho) {
		t.Fatalf("garbage input: %v", err)
	}
}

func TestVMAddrSpaceBothOrders(t *testing.T) {
	regions := []Region{
		{VMStart: 0x3000, Size: 0x1000, FileOffset: 0x300},
		{VMStart: 0x1000, Size: 0x1000, FileOffset: 0x100},
		{VMStart: 0x2000, Size: 0x1000, FileOffset: 0x200},
	}
	for _, name := range []string{"descending", "ascending"} {
		t.Run(name, func(t *testing.T) {
			v := NewVMAddrSpace(regions)
			for _, tt := range []struct {
				addr uint64
				want uint64
				ok   bool
			}{
				{0x1000, 0x100, true},
				{0x1fff, 0x10ff, true},
				{0x2800, 0xa00, true},
				{0x3fff, 0x12ff, true},
				{0x4000, 0, false}, // first byte past the last region
				{0x0fff, 0, false},
			} {
				got, ok := v.GetOffset(tt.addr)
				if ok != tt.ok || got != tt.want {
					t.Errorf("GetOffset(%#x) = %#x, %v; want %#x, %v", tt.addr, got, ok, tt.want, tt.ok)
				}
			}
			// reverse direction
			if addr, ok := v.GetVMAddress(0xa00); !ok || addr != 0x2800 {
				t.Errorf("GetVMAddress(0xa00) = %#x, %v", addr, ok)
			}
			if _, ok := v.GetVMAddress(0x99); ok {
				t.Error("unmapped file offset resolved")
			}
		})
		// second pass runs with the regions reversed
		for i, j := 0, len(regions)-1; i < j; i, j = i+1, j-1 {
			regions[i], regions[j] = regions[j], regions[i]
		}
	}
}

func TestVMAddrSpaceCache(t *testing.T) {
	v := NewVMAddrSpace([]Region{{VMStart: 0x1000, Size: 0x1000, FileOffset: 0x40}})
	v.EnableCache(16)
	for i := 0; i < 3; i++ {
		off, ok := v.GetOffset(0x1004)
		if !ok || off != 0x44 {
			t.Fatalf("pass %d: GetOffset = %#x, %v", i, off, ok)
		}
	}
	v.ClearCache()
	if off, ok := v.GetOffset(0x1004); !ok || off != 0x44 {
		t.Fatalf("after clear: GetOffset = %#x, %v", off, ok)
	}
}

func TestBindOpcodes(t *testing.T) {
	f := &File{ByteOrder: binary.LittleEndian}
	f.Magic = Magic64
	segs := []*Segment{
		{Name: "__TEXT", Addr: 0x100000000, Memsz: 0x1000, Offset: 0, Filesz: 0x1000},
		{Name: "__DATA", Addr: 0x100001000, Memsz: 0x1000, Offset: 0x1000, Filesz: 0x1000},
	}

	var table []byte
	table = append(table, bindOpcodeSetDylibOrdinalImm|1)
	table = append(table, bindOpcodeSetSymbolFlagsImm)
	table = append(table, "_OBJC_CLASS_$_NSObject\x00"...)
	table = append(table, bindOpcodeSetTypeImm|1)
	table = append(table, bindOpcodeSetSegmentOffsetULEB|1, 0x10) // __DATA + 0x10
	table = append(table, bindOpcodeDoBind)
	table = append(table, bindOpcodeDoBind) // slot advanced by pointer size
	table = append(table, bindOpcodeDone)

	binds, err := f.runBindOpcodes(table, segs, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(binds) != 2 {
		t.Fatalf("got %d binds, want 2", len(binds))
	}
	want := Bind{
		Name:       "_OBJC_CLASS_$_NSObject",
		Addr:       0x100001010,
		Off:        0x1010,
		LibOrdinal: 1,
	}
	if binds[0] != want {
		t.Errorf("binds[0] = %+v, want %+v", binds[0], want)
	}
	if binds[1].Off != 0x1018 {
		t.Errorf("binds[1].Off = %#x, want 0x1018", binds[1].Off)
	}
}

func TestArchNames(t *testing.T) {
	tests := []struct {
		arch Arch
		want string
	}{
		{Arch{CPUArm64, CPUSubtypeArm64E}, "arm64e"},
		{Arch{CPUArm64, CPUSubtypeArm64E | CPUSubtypePtrAuthMask}, "arm64e"},
		{Arch{CPUAmd64, CPUSubtypeX86_64All}, "x86_64"},
		{Arch{CPUArm, CPUSubtypeArmV7S}, "armv7s"},
	}
	for _, tt := range tests {
		if got := tt.arch.String(); got != tt.want {
			t.Errorf("%v.String() = %q, want %q", tt.arch, got, tt.want)
		}
	}
	if a, ok := ArchFromName("arm64e"); !ok || !a.Equal(Arch{CPUArm64, CPUSubtypeArm64E}) {
		t.Errorf("ArchFromName(arm64e) = %v, %v", a, ok)
	}
	if _, ok := ArchFromName("riscv64"); ok {
		t.Error("unknown arch name resolved")
	}
}
