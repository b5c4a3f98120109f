package dsc

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/blacktop/classdump/pkg/macho"
)

const (
	testCacheBase = uint64(0x180000000)
	testImageOff  = uint64(0x400)
	testPathOff   = uint64(0x300)
	testSelOff    = uint64(0x500)
	testImagePath = "/usr/lib/libfoo.dylib"
)

// buildCache assembles a one-mapping, one-image cache: the whole buffer is
// mapped at testCacheBase, and a bare 64-bit arm64 header with no load
// commands sits at testImageOff.
func buildCache() []byte {
	data := make([]byte, 0x1000)
	le := binary.LittleEndian

	copy(data, "dyld_v1   arm64")
	le.PutUint32(data[16:], 0x100) // mappingOffset
	le.PutUint32(data[20:], 1)     // mappingCount
	le.PutUint32(data[24:], 0x200) // imagesOffset
	le.PutUint32(data[28:], 1)     // imagesCount

	le.PutUint64(data[0x100:], testCacheBase)
	le.PutUint64(data[0x108:], uint64(len(data))) // size
	le.PutUint64(data[0x110:], 0)                 // fileOffset
	le.PutUint32(data[0x118:], 5)                 // maxProt
	le.PutUint32(data[0x11c:], 5)                 // initProt

	le.PutUint64(data[0x200:], testCacheBase+testImageOff)
	le.PutUint32(data[0x218:], uint32(testPathOff))

	copy(data[testPathOff:], testImagePath)
	copy(data[testSelOff:], "init")

	le.PutUint32(data[testImageOff:], macho.Magic64)
	le.PutUint32(data[testImageOff+4:], uint32(macho.CPUArm64))
	le.PutUint32(data[testImageOff+8:], 0)
	le.PutUint32(data[testImageOff+12:], uint32(macho.TypeDylib))
	// ncmd, cmdsz, flags all zero

	return data
}

func TestCacheParse(t *testing.T) {
	c, err := NewCache(buildCache())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.Magic, "dyld_v1") {
		t.Errorf("magic = %q", c.Magic)
	}
	if len(c.Mappings) != 1 || len(c.Images) != 1 {
		t.Fatalf("got %d mappings, %d images", len(c.Mappings), len(c.Images))
	}
	if c.Images[0].Path != testImagePath {
		t.Errorf("image path = %q, want %q", c.Images[0].Path, testImagePath)
	}

	off, ok := c.GetOffset(testCacheBase + testSelOff)
	if !ok || off != testSelOff {
		t.Errorf("GetOffset = %#x, %v", off, ok)
	}
	addr, ok := c.GetVMAddress(testSelOff)
	if !ok || addr != testCacheBase+testSelOff {
		t.Errorf("GetVMAddress = %#x, %v", addr, ok)
	}
	if _, ok := c.GetOffset(testCacheBase - 1); ok {
		t.Error("address below the mapping translated")
	}
}

func TestCacheImageLookup(t *testing.T) {
	c, err := NewCache(buildCache())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{testImagePath, "libfoo.dylib"} {
		f, err := c.Image(name)
		if err != nil {
			t.Fatalf("Image(%q): %v", name, err)
		}
		if f.CPU != macho.CPUArm64 || f.Type != macho.TypeDylib {
			t.Errorf("Image(%q) header = %v/%v", name, f.CPU, f.Type)
		}
	}
	if _, err := c.Image("libbar.dylib"); err == nil {
		t.Error("missing image found")
	}
}

func TestCacheGetCString(t *testing.T) {
	c, err := NewCache(buildCache())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ { // second read comes from the memo
		s, err := c.GetCString(testCacheBase + testSelOff)
		if err != nil {
			t.Fatal(err)
		}
		if s != "init" {
			t.Errorf("GetCString = %q", s)
		}
	}
	if _, err := c.GetCString(testCacheBase + 0x10000); err == nil {
		t.Error("unmapped address read")
	}
}

func TestSelectorResolver(t *testing.T) {
	c, err := NewCache(buildCache())
	if err != nil {
		t.Fatal(err)
	}
	resolve := c.SelectorResolver()
	if s, ok := resolve(testCacheBase + testSelOff); !ok || s != "init" {
		t.Errorf("resolve = %q, %v", s, ok)
	}
	if _, ok := resolve(testCacheBase + 0x10000); ok {
		t.Error("unmapped selector resolved")
	}
}

func TestNotACache(t *testing.T) {
	if _, err := NewCache([]byte("definitely not a cache file, far too short on magic")); err == nil {
		t.Fatal("garbage accepted")
	}
	if _, err := NewCache(nil); err == nil {
		t.Fatal("empty buffer accepted")
	}
}
