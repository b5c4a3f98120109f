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
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/classdump/internal/magic"
	"github.com/blacktop/classdump/pkg/macho"
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().String("arch", "", "Which architecture to show (default: all)")
	viper.BindPFlag("info.arch", infoCmd.Flags().Lookup("arch"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <MACHO>",
	Short: "Show MachO architecture, load command, and encryption info",
	Example: heredoc.Doc(`
		# Show all slices of a universal binary
		❯ classdump info /usr/lib/libobjc.A.dylib`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = viper.GetBool("no-color") || !viper.GetBool("color")

		if ok, err := magic.IsMachO(args[0]); !ok {
			return err
		}

		fi, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		b, err := macho.Open(args[0])
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s: %s (%s)\n", bold("File"), args[0], humanize.Bytes(uint64(fi.Size())))

		if b.Fat != nil {
			fmt.Printf("%s: %s\n", bold("Architectures"), fmt.Sprint(b.ArchNames()))
			if want := viper.GetString("info.arch"); want != "" {
				f, err := b.Fat.SliceFor(want)
				if err != nil {
					return err
				}
				printSlice(f, bold)
				return nil
			}
			for i := range b.Fat.Arches {
				f, err := b.Fat.Slice(i)
				if err != nil {
					log.Warnf("failed to parse %s slice: %v", b.Fat.Arches[i].Arch, err)
					continue
				}
				fmt.Println()
				printSlice(f, bold)
			}
			return nil
		}
		printSlice(b.Thin, bold)
		return nil
	},
}

func printSlice(f *macho.File, bold func(a ...any) string) {
	fmt.Printf("%s: %s %s\n", bold("Slice"), f.Arch(), f.Type)
	if u := f.UUID(); u != nil {
		fmt.Printf("%s: %s\n", bold("UUID"), u)
	}
	if id := f.DylibID(); id != "" {
		fmt.Printf("%s: %s\n", bold("ID"), id)
	}
	bvs, sv := buildInfo(f)
	for _, bv := range bvs {
		fmt.Printf("%s: %s\n", bold("Build"), bv)
	}
	if sv != "" {
		fmt.Printf("%s: %s\n", bold("Source"), sv)
	}
	if enc := f.EncryptionInfo(); enc != nil {
		state := "encrypted"
		if enc.CryptID == 0 {
			state = "not encrypted"
		}
		fmt.Printf("%s: %s (offset %#x, size %s, cryptid %d)\n",
			bold("Encryption"), state, enc.Offset, humanize.Bytes(uint64(enc.CryptSz)), enc.CryptID)
	}
	fmt.Printf("%s: ObjC=%v ChainedFixups=%v\n", bold("Features"), f.HasObjC(), f.HasChainedFixups())
	fmt.Printf("%s:\n", bold("Segments"))
	for _, seg := range f.Segments() {
		protected := ""
		if seg.Flag&macho.SegFlagProtectedV1 != 0 {
			protected = " (protected)"
		}
		fmt.Printf("  %-16s %#011x-%#011x %8s %s%s\n",
			seg.Name, seg.Addr, seg.Addr+seg.Memsz, humanize.Bytes(seg.Filesz), seg.Prot, protected)
	}
	if Verbose {
		fmt.Printf("%s:\n", bold("Load commands"))
		for _, l := range f.Loads {
			fmt.Printf("  %s\n", l.Command())
		}
	}
}
