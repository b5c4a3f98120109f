package macho

import (
	"cmp"
	"slices"
	"sort"

	"github.com/blacktop/classdump/internal/cache"
)

// A Region maps one contiguous virtual-address range onto the backing file.
type Region struct {
	VMStart    uint64
	Size       uint64
	FileOffset uint64
}

// VMEnd returns the exclusive end of the region's vm range.
func (r Region) VMEnd() uint64 { return r.VMStart + r.Size }

// A VMAddrSpace translates virtual addresses to file offsets over a sorted
// set of regions. Lookups are binary searches; an optional bounded memo
// cache speeds up the hot repeated-pointer paths of the ObjC walker.
//
// The same translator serves both a single image's section list and a dyld
// shared cache's mapping table.
type VMAddrSpace struct {
	regions []Region
	memo    *cache.Map[uint64, uint64]
}

// NewVMAddrSpace builds a translator. Input order does not matter; regions
// are sorted internally by vm start.
func NewVMAddrSpace(regions []Region) *VMAddrSpace {
	rs := slices.Clone(regions)
	slices.SortStableFunc(rs, func(a, b Region) int {
		return cmp.Compare(a.VMStart, b.VMStart)
	})
	return &VMAddrSpace{regions: rs}
}

// EnableCache turns on lookup memoization with the given capacity (zero
// means the cache package default). The cache admits entries until full and
// then stops; ClearCache resets it.
func (v *VMAddrSpace) EnableCache(capacity int) {
	v.memo = cache.NewMap[uint64, uint64](capacity)
}

// ClearCache drops all memoized translations.
func (v *VMAddrSpace) ClearCache() {
	if v.memo != nil {
		v.memo.Clear()
	}
}

// GetOffset translates addr to a file offset. ok is false when no region
// contains addr (a gap, or __PAGEZERO).
func (v *VMAddrSpace) GetOffset(addr uint64) (uint64, bool) {
	if v.memo != nil {
		if off, ok := v.memo.Get(addr); ok {
			return off, true
		}
	}
	i := sort.Search(len(v.regions), func(i int) bool {
		return v.regions[i].VMEnd() > addr
	})
	if i == len(v.regions) || addr < v.regions[i].VMStart {
		return 0, false
	}
	off := v.regions[i].FileOffset + (addr - v.regions[i].VMStart)
	if v.memo != nil {
		v.memo.Put(addr, off)
	}
	return off, true
}

// GetVMAddress translates a file offset back to a virtual address. A linear
// scan: regions are sorted by vm start, not file offset, and this direction
// is off the hot path.
func (v *VMAddrSpace) GetVMAddress(offset uint64) (uint64, bool) {
	for _, r := range v.regions {
		if offset >= r.FileOffset && offset < r.FileOffset+r.Size {
			return r.VMStart + (offset - r.FileOffset), true
		}
	}
	return 0, false
}

// Contains reports whether addr is mapped by any region.
func (v *VMAddrSpace) Contains(addr uint64) bool {
	_, ok := v.GetOffset(addr)
	return ok
}
