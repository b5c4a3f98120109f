package macho

import (
	"fmt"
	"runtime"
)

// A CPU is a Mach-O cpu type.
type CPU uint32

const (
	// CPUArchABI64 is the 64-bit ABI flag bit in a cpu type.
	CPUArchABI64 CPU = 0x01000000
	// CPUArchABI64_32 marks ILP32 on 64-bit hardware (watchOS arm64_32).
	CPUArchABI64_32 CPU = 0x02000000
)

const (
	CPUI386    CPU = 7
	CPUAmd64   CPU = CPUI386 | CPUArchABI64
	CPUArm     CPU = 12
	CPUArm64   CPU = CPUArm | CPUArchABI64
	CPUArm6432 CPU = CPUArm | CPUArchABI64_32
	CPUPpc     CPU = 18
	CPUPpc64   CPU = CPUPpc | CPUArchABI64
)

var cpuStrings = []intName{
	{uint32(CPUI386), "i386"},
	{uint32(CPUAmd64), "x86_64"},
	{uint32(CPUArm), "arm"},
	{uint32(CPUArm64), "arm64"},
	{uint32(CPUArm6432), "arm64_32"},
	{uint32(CPUPpc), "ppc"},
	{uint32(CPUPpc64), "ppc64"},
}

func (i CPU) String() string   { return stringName(uint32(i), cpuStrings, false) }
func (i CPU) GoString() string { return stringName(uint32(i), cpuStrings, true) }

// Is64bit reports whether the cpu type uses the 64-bit ABI.
func (i CPU) Is64bit() bool { return i&CPUArchABI64 != 0 }

// A CPUSubtype is a Mach-O cpu subtype.
type CPUSubtype uint32

// Capability bits carried in the high byte of a cpu subtype. They do not
// distinguish architectures and are masked off before comparison.
const (
	CPUSubtypeFeatureMask CPUSubtype = 0xff000000
	CPUSubtypeLib64       CPUSubtype = 0x80000000
	CPUSubtypePtrAuthMask CPUSubtype = 0x0f000000
)

const (
	CPUSubtypeX86All    CPUSubtype = 3
	CPUSubtypeX86_64All CPUSubtype = 3
	CPUSubtypeX86_64H   CPUSubtype = 8

	CPUSubtypeArmAll CPUSubtype = 0
	CPUSubtypeArmV6  CPUSubtype = 6
	CPUSubtypeArmV7  CPUSubtype = 9
	CPUSubtypeArmV7F CPUSubtype = 10
	CPUSubtypeArmV7S CPUSubtype = 11
	CPUSubtypeArmV7K CPUSubtype = 12

	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64V8  CPUSubtype = 1
	CPUSubtypeArm64E   CPUSubtype = 2

	CPUSubtypePpcAll CPUSubtype = 0
)

// Masked strips the capability bits.
func (s CPUSubtype) Masked() CPUSubtype { return s &^ CPUSubtypeFeatureMask }

// An Arch is a (cpu type, cpu subtype) pair with a canonical name.
type Arch struct {
	CPU    CPU
	SubCPU CPUSubtype
}

// Is64bit reports whether the architecture uses 64-bit pointers.
func (a Arch) Is64bit() bool { return a.CPU.Is64bit() }

// Equal compares two architectures ignoring subtype capability bits.
func (a Arch) Equal(other Arch) bool {
	return a.CPU == other.CPU && a.SubCPU.Masked() == other.SubCPU.Masked()
}

type archName struct {
	arch Arch
	name string
}

// The first entry for a cpu family doubles as its fallback name.
var archNames = []archName{
	{Arch{CPUI386, CPUSubtypeX86All}, "i386"},
	{Arch{CPUAmd64, CPUSubtypeX86_64All}, "x86_64"},
	{Arch{CPUAmd64, CPUSubtypeX86_64H}, "x86_64h"},
	{Arch{CPUArm, CPUSubtypeArmAll}, "arm"},
	{Arch{CPUArm, CPUSubtypeArmV6}, "armv6"},
	{Arch{CPUArm, CPUSubtypeArmV7}, "armv7"},
	{Arch{CPUArm, CPUSubtypeArmV7F}, "armv7f"},
	{Arch{CPUArm, CPUSubtypeArmV7S}, "armv7s"},
	{Arch{CPUArm, CPUSubtypeArmV7K}, "armv7k"},
	{Arch{CPUArm64, CPUSubtypeArm64All}, "arm64"},
	{Arch{CPUArm64, CPUSubtypeArm64V8}, "arm64v8"},
	{Arch{CPUArm64, CPUSubtypeArm64E}, "arm64e"},
	{Arch{CPUArm6432, CPUSubtypeArm64All}, "arm64_32"},
	{Arch{CPUPpc, CPUSubtypePpcAll}, "ppc"},
	{Arch{CPUPpc64, CPUSubtypePpcAll}, "ppc64"},
}

// String returns the canonical architecture name, e.g. "arm64e".
func (a Arch) String() string {
	for _, an := range archNames {
		if an.arch.Equal(a) {
			return an.name
		}
	}
	return fmt.Sprintf("%s/%d", a.CPU, a.SubCPU.Masked())
}

// ArchFromName resolves a canonical architecture name.
func ArchFromName(name string) (Arch, bool) {
	for _, an := range archNames {
		if an.name == name {
			return an.arch, true
		}
	}
	return Arch{}, false
}

// LocalArch returns the architecture of the running system.
func LocalArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return Arch{CPUAmd64, CPUSubtypeX86_64All}
	case "386":
		return Arch{CPUI386, CPUSubtypeX86All}
	case "arm64":
		return Arch{CPUArm64, CPUSubtypeArm64All}
	case "arm":
		return Arch{CPUArm, CPUSubtypeArmV7}
	default:
		return Arch{CPUAmd64, CPUSubtypeX86_64All}
	}
}
