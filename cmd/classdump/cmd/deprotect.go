/*
Copyright © 2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/classdump/pkg/macho"
	"github.com/blacktop/classdump/pkg/protect"
)

func init() {
	rootCmd.AddCommand(deprotectCmd)

	deprotectCmd.Flags().StringP("output", "o", "", "Output file (default: <input>.deprotected)")
	viper.BindPFlag("deprotect.output", deprotectCmd.Flags().Lookup("output"))
}

// deprotectCmd represents the deprotect command
var deprotectCmd = &cobra.Command{
	Use:   "deprotect <MACHO>",
	Short: "Decrypt a legacy protected segment and clear the protection flag",
	Example: heredoc.Doc(`
		# Write a decrypted copy next to the original
		❯ classdump deprotect ./SomeOldBinary`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		b, err := macho.Parse(data)
		if err != nil {
			return err
		}
		if b.Fat != nil {
			return fmt.Errorf("protected binaries are thin; extract a slice first")
		}
		f := b.Thin

		var seg *macho.Segment
		for _, s := range f.Segments() {
			if s.Flag&macho.SegFlagProtectedV1 != 0 {
				seg = s
				break
			}
		}
		if seg == nil {
			return fmt.Errorf("%s has no protected segment", args[0])
		}
		log.Infof("Decrypting %s segment (%#x bytes)", seg.Name, seg.Filesz)

		out := make([]byte, len(data))
		copy(out, data)
		dec, err := protect.Decrypt(data[seg.Offset : seg.Offset+seg.Filesz])
		if err != nil {
			return err
		}
		copy(out[seg.Offset:], dec)

		if err := clearProtectedFlag(out, f, seg.Name); err != nil {
			return err
		}

		dest := viper.GetString("deprotect.output")
		if dest == "" {
			dest = args[0] + ".deprotected"
		}
		if err := os.WriteFile(dest, out, 0o644); err != nil {
			return err
		}
		log.Infof("Created %s", dest)
		return nil
	},
}

// clearProtectedFlag walks the load command table in the output buffer and
// clears SG_PROTECTED_VERSION_1 on the named segment. The flags word sits
// last in both segment command layouts.
func clearProtectedFlag(out []byte, f *macho.File, segName string) error {
	bo := f.ByteOrder
	off := uint32(28)
	flagsAt := uint32(52)
	if f.Is64bit() {
		off = 32
		flagsAt = 68
	}
	for i := uint32(0); i < f.Ncmd; i++ {
		if int(off)+8 > len(out) {
			return fmt.Errorf("load command table truncated")
		}
		cmd := macho.LoadCmd(bo.Uint32(out[off:]))
		size := bo.Uint32(out[off+4:])
		if size < 8 || int(off+size) > len(out) {
			return fmt.Errorf("load command %d has bad size %d", i, size)
		}
		if cmd == macho.LoadCmdSegment || cmd == macho.LoadCmdSegment64 {
			name := out[off+8 : off+24]
			if str(name) == segName {
				flags := bo.Uint32(out[off+flagsAt:])
				bo.PutUint32(out[off+flagsAt:], flags&^uint32(macho.SegFlagProtectedV1))
				return nil
			}
		}
		off += size
	}
	return fmt.Errorf("segment %s not found in load command table", segName)
}

func str(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
