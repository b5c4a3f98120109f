// Package magic sniffs file types by their leading bytes, so commands can
// route a path to the right parser without reading the whole file.
package magic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/blacktop/classdump/pkg/macho"
)

func readMagic(filePath string, n int) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	magic := make([]byte, n)
	if _, err = f.Read(magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	return magic, nil
}

// IsMachO reports whether the file starts with any thin or fat Mach-O
// magic, in either byte order.
func IsMachO(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 4)
	if err != nil {
		return false, err
	}
	switch binary.LittleEndian.Uint32(magic) {
	case macho.Magic32, macho.Cigam32, macho.Magic64, macho.Cigam64:
		return true, nil
	}
	switch binary.BigEndian.Uint32(magic) {
	case macho.MagicFat, macho.MagicFat64:
		return true, nil
	}
	return false, fmt.Errorf("not a macho file")
}

// IsDyldSharedCache reports whether the file carries the shared cache
// version banner.
func IsDyldSharedCache(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 7)
	if err != nil {
		return false, err
	}
	if bytes.Equal(magic, []byte("dyld_v1")) {
		return true, nil
	}
	return false, fmt.Errorf("not a dyld shared cache")
}
