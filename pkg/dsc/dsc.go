// Package dsc reads the dyld shared cache far enough to hand individual
// images to the Mach-O and ObjC layers: the mapping table for address
// translation, the image list, and C-string access with a read cache.
package dsc

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/blacktop/classdump/pkg/cursor"
	"github.com/blacktop/classdump/pkg/macho"
)

const (
	magicPrefix = "dyld_v1"

	mappingInfoSize = 40
	imageInfoSize   = 32

	// the cstring read cache is pure I/O memoization, so LRU eviction is
	// harmless here
	cstringCacheSize = 65536
)

// A Mapping is one cache-wide address mapping.
type Mapping struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	MaxProt    uint32
	InitProt   uint32
}

// An ImageEntry is one image of the cache's image list.
type ImageEntry struct {
	Path    string
	Address uint64
}

// A Cache is a parsed dyld shared cache. The mapping table drives the same
// binary-search translator as a single image's section list, just over a
// much larger address space.
type Cache struct {
	Magic    string
	Mappings []Mapping
	Images   []ImageEntry

	data     []byte
	vma      *macho.VMAddrSpace
	cstrings *lru.Cache[uint64, string]
}

// NewCache parses a shared cache out of data. The buffer is retained by
// reference.
func NewCache(data []byte) (*Cache, error) {
	if len(data) < 32 || !strings.HasPrefix(string(data[:16]), magicPrefix) {
		return nil, fmt.Errorf("not a dyld shared cache")
	}
	c := &Cache{
		Magic: strings.TrimRight(string(data[:16]), "\x00 "),
		data:  data,
	}
	bo := binary.LittleEndian
	mappingOffset := bo.Uint32(data[16:])
	mappingCount := bo.Uint32(data[20:])
	imagesOffset := bo.Uint32(data[24:])
	imagesCount := bo.Uint32(data[28:])

	cur, err := cursor.New(data, int64(mappingOffset))
	if err != nil {
		return nil, errors.Wrap(err, "mapping table")
	}
	if cur.Remaining() < int64(mappingCount)*mappingInfoSize {
		return nil, fmt.Errorf("mapping table truncated: %d mappings", mappingCount)
	}
	regions := make([]macho.Region, 0, mappingCount)
	for i := uint32(0); i < mappingCount; i++ {
		var m Mapping
		m.Address, _ = cur.ReadUint64(bo)
		m.Size, _ = cur.ReadUint64(bo)
		m.FileOffset, _ = cur.ReadUint64(bo)
		m.MaxProt, _ = cur.ReadUint32(bo)
		m.InitProt, _ = cur.ReadUint32(bo)
		c.Mappings = append(c.Mappings, m)
		regions = append(regions, macho.Region{VMStart: m.Address, Size: m.Size, FileOffset: m.FileOffset})
	}
	c.vma = macho.NewVMAddrSpace(regions)
	c.vma.EnableCache(0)

	cur, err = cursor.New(data, int64(imagesOffset))
	if err != nil {
		return nil, errors.Wrap(err, "image list")
	}
	if cur.Remaining() < int64(imagesCount)*imageInfoSize {
		return nil, fmt.Errorf("image list truncated: %d images", imagesCount)
	}
	c.Images = make([]ImageEntry, 0, imagesCount)
	for i := uint32(0); i < imagesCount; i++ {
		addr, _ := cur.ReadUint64(bo)
		cur.Advance(16) // modTime, inode
		pathOff, _ := cur.ReadUint32(bo)
		cur.Advance(4) // pad
		pc, err := cursor.New(data, int64(pathOff))
		if err != nil {
			continue
		}
		p, _ := pc.ReadCString()
		c.Images = append(c.Images, ImageEntry{Path: p, Address: addr})
	}

	c.cstrings, err = lru.New[uint64, string](cstringCacheSize)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open reads and parses the cache file at p.
func Open(p string) (*Cache, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	c, err := NewCache(data)
	if err != nil {
		return nil, errors.Wrap(err, p)
	}
	return c, nil
}

// GetOffset translates a cache virtual address to a file offset.
func (c *Cache) GetOffset(addr uint64) (uint64, bool) { return c.vma.GetOffset(addr) }

// GetVMAddress translates a file offset back to a cache virtual address.
func (c *Cache) GetVMAddress(off uint64) (uint64, bool) { return c.vma.GetVMAddress(off) }

// GetCString reads the NUL-terminated string at a cache address, memoized.
func (c *Cache) GetCString(addr uint64) (string, error) {
	if s, ok := c.cstrings.Get(addr); ok {
		return s, nil
	}
	off, ok := c.GetOffset(addr)
	if !ok {
		return "", fmt.Errorf("address %#x not mapped by cache", addr)
	}
	cur, err := cursor.New(c.data, int64(off))
	if err != nil {
		return "", err
	}
	s, err := cur.ReadCString()
	if err != nil {
		return "", err
	}
	c.cstrings.Add(addr, s)
	return s, nil
}

// ImageEntry finds an image by full path, or by basename when name carries
// no slash.
func (c *Cache) ImageEntry(name string) (*ImageEntry, error) {
	for i := range c.Images {
		if c.Images[i].Path == name {
			return &c.Images[i], nil
		}
	}
	if !strings.Contains(name, "/") {
		for i := range c.Images {
			if path.Base(c.Images[i].Path) == name {
				return &c.Images[i], nil
			}
		}
	}
	return nil, fmt.Errorf("image %s not found in cache", name)
}

// Image parses the named image as a Mach-O slice viewing the cache buffer.
// Segment file offsets inside a cache image are cache-absolute, which is
// exactly the NewFileAtOffset contract.
func (c *Cache) Image(name string) (*macho.File, error) {
	entry, err := c.ImageEntry(name)
	if err != nil {
		return nil, err
	}
	off, ok := c.GetOffset(entry.Address)
	if !ok {
		return nil, fmt.Errorf("image %s address %#x not mapped", name, entry.Address)
	}
	f, err := macho.NewFileAtOffset(c.data, off)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", name)
	}
	return f, nil
}

// SelectorResolver adapts the cache's string access to the ObjC walker's
// out-of-image selector lookup.
func (c *Cache) SelectorResolver() func(addr uint64) (string, bool) {
	return func(addr uint64) (string, bool) {
		s, err := c.GetCString(addr)
		if err != nil || s == "" {
			return "", false
		}
		return s, true
	}
}
