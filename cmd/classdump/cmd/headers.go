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
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/classdump/internal/commands/dump"
)

func init() {
	rootCmd.AddCommand(headersCmd)

	headersCmd.Flags().String("arch", "", "Which architecture to use for fat/universal MachO")
	headersCmd.Flags().StringP("output", "o", "", "Folder to write headers to")
	headersCmd.MarkFlagDirname("output")
	headersCmd.Flags().Bool("re", false, "RE verbosity (with addresses)")

	viper.BindPFlag("headers.arch", headersCmd.Flags().Lookup("arch"))
	viper.BindPFlag("headers.output", headersCmd.Flags().Lookup("output"))
	viper.BindPFlag("headers.re", headersCmd.Flags().Lookup("re"))
}

// headersCmd represents the headers command
var headersCmd = &cobra.Command{
	Use:   "headers [<DSC> <DYLIB>|<MACHO>]",
	Short: "Write one ObjC header file per class/protocol/category",
	Example: heredoc.Doc(`
		# Write headers for a framework next to the current dir
		❯ classdump headers -o ./headers MyApp.app/MyApp
		# Headers for a DSC dylib
		❯ classdump headers -o ./headers dyld_shared_cache_arm64e CoreFoundation`),
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		if out := viper.GetString("headers.output"); out != "" {
			if err := os.MkdirAll(out, 0o750); err != nil {
				return err
			}
		}

		f, cache, name, err := openTarget(args, viper.GetString("headers.arch"))
		if err != nil {
			return err
		}
		if id := f.DylibID(); id != "" {
			name = id[strings.LastIndex(id, "/")+1:]
		}

		buildVersions, sourceVersion := buildInfo(f)
		o, err := dump.New(f, cache, &dump.Config{
			Name:          name,
			Verbose:       Verbose,
			Addrs:         viper.GetBool("headers.re"),
			AppVersion:    fmt.Sprintf("Version: %s, BuildTime: %s", strings.TrimSpace(AppVersion), strings.TrimSpace(AppBuildTime)),
			BuildVersions: buildVersions,
			SourceVersion: sourceVersion,
			Output:        viper.GetString("headers.output"),
		})
		if err != nil {
			return err
		}
		return o.Headers()
	},
}
