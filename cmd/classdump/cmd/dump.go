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
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/classdump/internal/commands/dump"
)

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().String("arch", "", "Which architecture to use for fat/universal MachO")
	dumpCmd.Flags().StringP("class", "c", "", "Dump class (regex)")
	dumpCmd.Flags().StringP("proto", "p", "", "Dump protocol (regex)")
	dumpCmd.Flags().StringP("cat", "a", "", "Dump category (regex)")
	dumpCmd.Flags().StringP("method", "m", "", "Only dump entities with methods containing this substring")
	dumpCmd.Flags().String("sort", "alpha", "Sort order (declaration, alpha, inheritance)")
	dumpCmd.Flags().StringP("theme", "t", "nord", "Color theme (nord, github, etc)")
	dumpCmd.RegisterFlagCompletionFunc("theme", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return styles.Names(), cobra.ShellCompDirectiveNoFileComp
	})
	dumpCmd.Flags().Bool("re", false, "RE verbosity (with addresses)")

	viper.BindPFlag("dump.arch", dumpCmd.Flags().Lookup("arch"))
	viper.BindPFlag("dump.class", dumpCmd.Flags().Lookup("class"))
	viper.BindPFlag("dump.proto", dumpCmd.Flags().Lookup("proto"))
	viper.BindPFlag("dump.cat", dumpCmd.Flags().Lookup("cat"))
	viper.BindPFlag("dump.method", dumpCmd.Flags().Lookup("method"))
	viper.BindPFlag("dump.sort", dumpCmd.Flags().Lookup("sort"))
	viper.BindPFlag("dump.theme", dumpCmd.Flags().Lookup("theme"))
	viper.BindPFlag("dump.re", dumpCmd.Flags().Lookup("re"))
}

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:     "dump [<DSC> <DYLIB>|<MACHO>]",
	Aliases: []string{"d"},
	Short:   "Dump ObjC declarations from a MachO or a dylib in a DSC",
	Example: heredoc.Doc(`
		# Dump all ObjC declarations from a framework binary
		❯ classdump dump MyApp.app/MyApp
		# Dump a single class with RE address annotations
		❯ classdump dump --class '^ViewController$' --re MyApp.app/MyApp
		# Dump a dylib out of a dyld shared cache
		❯ classdump dump dyld_shared_cache_arm64e libswiftCore.dylib`),
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = viper.GetBool("no-color") || !viper.GetBool("color")

		f, cache, name, err := openTarget(args, viper.GetString("dump.arch"))
		if err != nil {
			return err
		}

		buildVersions, sourceVersion := buildInfo(f)
		o, err := dump.New(f, cache, &dump.Config{
			Name:          name,
			Verbose:       Verbose,
			Addrs:         viper.GetBool("dump.re"),
			Class:         viper.GetString("dump.class"),
			Protocol:      viper.GetString("dump.proto"),
			Category:      viper.GetString("dump.cat"),
			Method:        viper.GetString("dump.method"),
			Sort:          viper.GetString("dump.sort"),
			AppVersion:    fmt.Sprintf("Version: %s, BuildTime: %s", strings.TrimSpace(AppVersion), strings.TrimSpace(AppBuildTime)),
			BuildVersions: buildVersions,
			SourceVersion: sourceVersion,
			Color:         viper.GetBool("color") && !viper.GetBool("no-color"),
			Theme:         viper.GetString("dump.theme"),
		})
		if err != nil {
			return err
		}

		var filtered bool
		if pattern := viper.GetString("dump.class"); pattern != "" {
			filtered = true
			if err := o.DumpClass(pattern); err != nil {
				return err
			}
		}
		if pattern := viper.GetString("dump.proto"); pattern != "" {
			filtered = true
			if err := o.DumpProtocol(pattern); err != nil {
				return err
			}
		}
		if pattern := viper.GetString("dump.cat"); pattern != "" {
			filtered = true
			if err := o.DumpCategory(pattern); err != nil {
				return err
			}
		}
		if !filtered {
			return o.Dump()
		}
		return nil
	},
}
