package macho

import (
	"fmt"
)

// LoadCmdReqDyld marks commands dyld must understand to load the image.
const LoadCmdReqDyld uint32 = 0x80000000

// A LoadCmd is a Mach-O load command type.
type LoadCmd uint32

const (
	LoadCmdSegment          LoadCmd = 0x1
	LoadCmdSymtab           LoadCmd = 0x2
	LoadCmdDysymtab         LoadCmd = 0xb
	LoadCmdDylib            LoadCmd = 0xc
	LoadCmdDylibID          LoadCmd = 0xd
	LoadCmdLoadDylinker     LoadCmd = 0xe
	LoadCmdSegment64        LoadCmd = 0x19
	LoadCmdUUID             LoadCmd = 0x1b
	LoadCmdRpath            LoadCmd = LoadCmd(0x1c | LoadCmdReqDyld)
	LoadCmdCodeSignature    LoadCmd = 0x1d
	LoadCmdEncryptionInfo   LoadCmd = 0x21
	LoadCmdDyldInfo         LoadCmd = 0x22
	LoadCmdDyldInfoOnly     LoadCmd = LoadCmd(0x22 | LoadCmdReqDyld)
	LoadCmdLoadWeakDylib    LoadCmd = LoadCmd(0x18 | LoadCmdReqDyld)
	LoadCmdReexportDylib    LoadCmd = LoadCmd(0x1f | LoadCmdReqDyld)
	LoadCmdLoadUpwardDylib  LoadCmd = LoadCmd(0x23 | LoadCmdReqDyld)
	LoadCmdVersionMinMacOSX LoadCmd = 0x24
	LoadCmdVersionMinIphone LoadCmd = 0x25
	LoadCmdFunctionStarts   LoadCmd = 0x26
	LoadCmdMain             LoadCmd = LoadCmd(0x28 | LoadCmdReqDyld)
	LoadCmdDataInCode       LoadCmd = 0x29
	LoadCmdSourceVersion    LoadCmd = 0x2a
	LoadCmdEncryptionInfo64 LoadCmd = 0x2c
	LoadCmdBuildVersion     LoadCmd = 0x32
	LoadCmdDyldExportsTrie  LoadCmd = LoadCmd(0x33 | LoadCmdReqDyld)
	LoadCmdDyldChainedFixups LoadCmd = LoadCmd(0x34 | LoadCmdReqDyld)
)

var cmdStrings = []intName{
	{uint32(LoadCmdSegment), "LoadCmdSegment"},
	{uint32(LoadCmdSymtab), "LoadCmdSymtab"},
	{uint32(LoadCmdDysymtab), "LoadCmdDysymtab"},
	{uint32(LoadCmdDylib), "LoadCmdDylib"},
	{uint32(LoadCmdDylibID), "LoadCmdDylibID"},
	{uint32(LoadCmdLoadDylinker), "LoadCmdLoadDylinker"},
	{uint32(LoadCmdSegment64), "LoadCmdSegment64"},
	{uint32(LoadCmdUUID), "LoadCmdUUID"},
	{uint32(LoadCmdRpath), "LoadCmdRpath"},
	{uint32(LoadCmdCodeSignature), "LoadCmdCodeSignature"},
	{uint32(LoadCmdEncryptionInfo), "LoadCmdEncryptionInfo"},
	{uint32(LoadCmdDyldInfo), "LoadCmdDyldInfo"},
	{uint32(LoadCmdDyldInfoOnly), "LoadCmdDyldInfoOnly"},
	{uint32(LoadCmdLoadWeakDylib), "LoadCmdLoadWeakDylib"},
	{uint32(LoadCmdReexportDylib), "LoadCmdReexportDylib"},
	{uint32(LoadCmdLoadUpwardDylib), "LoadCmdLoadUpwardDylib"},
	{uint32(LoadCmdVersionMinMacOSX), "LoadCmdVersionMinMacOSX"},
	{uint32(LoadCmdVersionMinIphone), "LoadCmdVersionMinIphone"},
	{uint32(LoadCmdFunctionStarts), "LoadCmdFunctionStarts"},
	{uint32(LoadCmdMain), "LoadCmdMain"},
	{uint32(LoadCmdDataInCode), "LoadCmdDataInCode"},
	{uint32(LoadCmdSourceVersion), "LoadCmdSourceVersion"},
	{uint32(LoadCmdEncryptionInfo64), "LoadCmdEncryptionInfo64"},
	{uint32(LoadCmdBuildVersion), "LoadCmdBuildVersion"},
	{uint32(LoadCmdDyldExportsTrie), "LoadCmdDyldExportsTrie"},
	{uint32(LoadCmdDyldChainedFixups), "LoadCmdDyldChainedFixups"},
}

func (c LoadCmd) String() string   { return stringName(uint32(c), cmdStrings, false) }
func (c LoadCmd) GoString() string { return stringName(uint32(c), cmdStrings, true) }

// A Load is any Mach-O load command.
type Load interface {
	Command() LoadCmd
	CommandSize() uint32
	// Raw returns the command's bytes, including the (cmd, cmdsize) prefix.
	Raw() []byte
}

// LoadBytes is the uninterpreted bytes of a load command; every concrete
// command embeds it so the original bytes stay addressable (the deprotect
// rewrite path patches flags in place).
type LoadBytes []byte

func (b LoadBytes) Raw() []byte { return b }

// UnknownCommand is the opaque fallback for command types this package does
// not decode.
type UnknownCommand struct {
	LoadBytes
	Cmd  LoadCmd
	Size uint32
}

func (c *UnknownCommand) Command() LoadCmd    { return c.Cmd }
func (c *UnknownCommand) CommandSize() uint32 { return c.Size }
func (c *UnknownCommand) String() string {
	return fmt.Sprintf("cmd=%#x size=%d", uint32(c.Cmd), c.Size)
}

// A Dylib records a dynamic-library dependency. The same layout backs the
// load, ID, weak, reexport, and upward variants; Cmd distinguishes them.
type Dylib struct {
	LoadBytes
	Cmd            LoadCmd
	Size           uint32
	Name           string
	Timestamp      uint32
	CurrentVersion uint32
	CompatVersion  uint32
}

func (d *Dylib) Command() LoadCmd    { return d.Cmd }
func (d *Dylib) CommandSize() uint32 { return d.Size }
func (d *Dylib) String() string {
	return fmt.Sprintf("%s (compat %s, current %s)", d.Name,
		versionString(d.CompatVersion), versionString(d.CurrentVersion))
}

// A UUID carries the image's build UUID.
type UUID struct {
	LoadBytes
	Size uint32
	ID   [16]byte
}

func (u *UUID) Command() LoadCmd    { return LoadCmdUUID }
func (u *UUID) CommandSize() uint32 { return u.Size }
func (u *UUID) String() string {
	b := u.ID
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

// An EntryPoint is the LC_MAIN command.
type EntryPoint struct {
	LoadBytes
	Size      uint32
	Offset    uint64
	StackSize uint64
}

func (e *EntryPoint) Command() LoadCmd    { return LoadCmdMain }
func (e *EntryPoint) CommandSize() uint32 { return e.Size }
func (e *EntryPoint) String() string {
	return fmt.Sprintf("entry offset %#x, stack size %#x", e.Offset, e.StackSize)
}

// A Platform identifies the OS a build-version command targets.
type Platform uint32

const (
	PlatformMacOS            Platform = 1
	PlatformIOS              Platform = 2
	PlatformTvOS             Platform = 3
	PlatformWatchOS          Platform = 4
	PlatformBridgeOS         Platform = 5
	PlatformMacCatalyst      Platform = 6
	PlatformIOSSimulator     Platform = 7
	PlatformTvOSSimulator    Platform = 8
	PlatformWatchOSSimulator Platform = 9
	PlatformDriverKit        Platform = 10
	PlatformVisionOS         Platform = 11
)

var platformStrings = []intName{
	{uint32(PlatformMacOS), "macOS"},
	{uint32(PlatformIOS), "iOS"},
	{uint32(PlatformTvOS), "tvOS"},
	{uint32(PlatformWatchOS), "watchOS"},
	{uint32(PlatformBridgeOS), "bridgeOS"},
	{uint32(PlatformMacCatalyst), "macCatalyst"},
	{uint32(PlatformIOSSimulator), "iOS Simulator"},
	{uint32(PlatformTvOSSimulator), "tvOS Simulator"},
	{uint32(PlatformWatchOSSimulator), "watchOS Simulator"},
	{uint32(PlatformDriverKit), "DriverKit"},
	{uint32(PlatformVisionOS), "visionOS"},
}

func (p Platform) String() string { return stringName(uint32(p), platformStrings, false) }

// A BuildVersion records the target platform and tool versions.
type BuildVersion struct {
	LoadBytes
	Size     uint32
	Platform Platform
	Minos    uint32
	Sdk      uint32
	Ntools   uint32
}

func (b *BuildVersion) Command() LoadCmd    { return LoadCmdBuildVersion }
func (b *BuildVersion) CommandSize() uint32 { return b.Size }
func (b *BuildVersion) String() string {
	return fmt.Sprintf("%s, minos %s, sdk %s", b.Platform,
		versionString(b.Minos), versionString(b.Sdk))
}

// A SourceVersion records the version of the sources used to build the image.
type SourceVersion struct {
	LoadBytes
	Size    uint32
	Version uint64
}

func (s *SourceVersion) Command() LoadCmd    { return LoadCmdSourceVersion }
func (s *SourceVersion) CommandSize() uint32 { return s.Size }
func (s *SourceVersion) String() string {
	v := s.Version
	return fmt.Sprintf("%d.%d.%d.%d.%d",
		v>>40, (v>>30)&0x3ff, (v>>20)&0x3ff, (v>>10)&0x3ff, v&0x3ff)
}

// An EncryptionInfo describes a protected byte range of the file. The 64-bit
// command adds a trailing pad word, reflected in Size.
type EncryptionInfo struct {
	LoadBytes
	Cmd     LoadCmd
	Size    uint32
	Offset  uint32
	CryptSz uint32
	CryptID uint32
}

func (e *EncryptionInfo) Command() LoadCmd    { return e.Cmd }
func (e *EncryptionInfo) CommandSize() uint32 { return e.Size }
func (e *EncryptionInfo) String() string {
	return fmt.Sprintf("offset %#x size %#x cryptid %d", e.Offset, e.CryptSz, e.CryptID)
}

// A LinkEditData command points at an opaque blob in __LINKEDIT. It backs
// function starts, data-in-code, code signature, the exports trie, and the
// chained-fixups payload.
type LinkEditData struct {
	LoadBytes
	Cmd    LoadCmd
	Size   uint32
	Offset uint32
	Sz     uint32
}

func (l *LinkEditData) Command() LoadCmd    { return l.Cmd }
func (l *LinkEditData) CommandSize() uint32 { return l.Size }
func (l *LinkEditData) String() string {
	return fmt.Sprintf("offset %#x size %#x", l.Offset, l.Sz)
}

// A DyldInfo command locates the classic opcode-based rebase/bind tables.
type DyldInfo struct {
	LoadBytes
	Cmd          LoadCmd
	Size         uint32
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}

func (d *DyldInfo) Command() LoadCmd    { return d.Cmd }
func (d *DyldInfo) CommandSize() uint32 { return d.Size }

// A Symtab command locates the nlist symbol table and its string table; the
// parsed symbols hang off of it.
type Symtab struct {
	LoadBytes
	Size    uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
	Syms    []Symbol
}

func (s *Symtab) Command() LoadCmd    { return LoadCmdSymtab }
func (s *Symtab) CommandSize() uint32 { return s.Size }

// A Dysymtab command partitions the symbol table for the dynamic linker.
type Dysymtab struct {
	LoadBytes
	Size           uint32
	Ilocalsym      uint32
	Nlocalsym      uint32
	Iextdefsym     uint32
	Nextdefsym     uint32
	Iundefsym      uint32
	Nundefsym      uint32
	IndirectSymoff uint32
	NindirectSyms  uint32
}

func (d *Dysymtab) Command() LoadCmd    { return LoadCmdDysymtab }
func (d *Dysymtab) CommandSize() uint32 { return d.Size }

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}
