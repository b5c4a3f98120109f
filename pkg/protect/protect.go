// Package protect decrypts legacy "protected" __TEXT segments. It is a
// pure function over raw segment bytes with no dependency on the rest of
// the parsing pipeline.
//
// Layout contract: the segment is a whole number of 4096-byte pages. The
// first three pages are never encrypted. Page three opens with a 32-bit
// magic selecting the cipher and is otherwise carried through; the cipher
// applies to every page after it, each page independently, so pages can be
// processed in parallel.
package protect

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blowfish"
)

// PageSize is the protection scheme's page granularity.
const PageSize = 4096

const clearPages = 3 // leading pages that are never encrypted

// Cipher-selecting magics, stored at byte offset clearPages*PageSize.
const (
	MagicNone    uint32 = 0
	MagicCipherA uint32 = 0x2e69cf40
	MagicCipherB uint32 = 0xc2286295
)

// UnsupportedEncryptionError reports an unrecognized cipher magic, carrying
// the raw value for diagnostics.
type UnsupportedEncryptionError struct {
	Magic uint32
}

func (e *UnsupportedEncryptionError) Error() string {
	return fmt.Sprintf("unsupported encryption type %#08x", e.Magic)
}

// cipher A processes the two 2048-byte halves of each page independently,
// each half keyed by one half of this 64-byte key, in plain block mode.
var cipherAKey = []byte{
	0x6f, 0x75, 0x72, 0x68, 0x61, 0x72, 0x64, 0x77,
	0x6f, 0x72, 0x6b, 0x62, 0x79, 0x74, 0x68, 0x65,
	0x73, 0x65, 0x77, 0x6f, 0x72, 0x64, 0x73, 0x67,
	0x75, 0x61, 0x72, 0x64, 0x65, 0x64, 0x70, 0x6c,
	0x65, 0x61, 0x73, 0x65, 0x64, 0x6f, 0x6e, 0x74,
	0x73, 0x74, 0x65, 0x61, 0x6c, 0x28, 0x63, 0x29,
	0x41, 0x70, 0x70, 0x6c, 0x65, 0x43, 0x6f, 0x6d,
	0x70, 0x75, 0x74, 0x65, 0x72, 0x49, 0x6e, 0x63,
}

// cipher B is a 64-bit block cipher chained across the 8-byte big-endian
// blocks of each page, chain state reset per page.
var cipherBKey = []byte("VPCSeuilvmwzSVtSCtCrnmkmcKTsuGzw")

// Decrypt returns the segment with every encrypted page decrypted in
// place. The input is not modified. Input length must be a whole number of
// pages and large enough to carry the magic word.
func Decrypt(data []byte) ([]byte, error) {
	if len(data)%PageSize != 0 {
		return nil, fmt.Errorf("segment length %#x is not page aligned", len(data))
	}
	out := make([]byte, len(data))
	copy(out, data)
	if len(data) <= clearPages*PageSize {
		return out, nil
	}
	magic := binary.LittleEndian.Uint32(data[clearPages*PageSize:])
	encrypted := out[(clearPages+1)*PageSize:]
	switch magic {
	case MagicNone:
		return out, nil
	case MagicCipherA:
		if err := decryptA(encrypted); err != nil {
			return nil, errors.Wrap(err, "cipher A")
		}
		return out, nil
	case MagicCipherB:
		if err := decryptB(encrypted); err != nil {
			return nil, errors.Wrap(err, "cipher B")
		}
		return out, nil
	}
	return nil, &UnsupportedEncryptionError{Magic: magic}
}

func decryptA(pages []byte) error {
	lo, err := aes.NewCipher(cipherAKey[:32])
	if err != nil {
		return err
	}
	hi, err := aes.NewCipher(cipherAKey[32:])
	if err != nil {
		return err
	}
	for page := 0; page < len(pages); page += PageSize {
		for _, half := range []struct {
			data []byte
			c    interface{ Decrypt(dst, src []byte) }
		}{
			{pages[page : page+PageSize/2], lo},
			{pages[page+PageSize/2 : page+PageSize], hi},
		} {
			for b := 0; b < len(half.data); b += aes.BlockSize {
				half.c.Decrypt(half.data[b:b+aes.BlockSize], half.data[b:b+aes.BlockSize])
			}
		}
	}
	return nil
}

func decryptB(pages []byte) error {
	c, err := blowfish.NewCipher(cipherBKey)
	if err != nil {
		return err
	}
	for page := 0; page < len(pages); page += PageSize {
		var prev uint64 // chain state, reset per page
		for b := page; b < page+PageSize; b += blowfish.BlockSize {
			block := pages[b : b+blowfish.BlockSize]
			cipherBlock := binary.BigEndian.Uint64(block)
			c.Decrypt(block, block)
			binary.BigEndian.PutUint64(block, binary.BigEndian.Uint64(block)^prev)
			prev = cipherBlock
		}
	}
	return nil
}
