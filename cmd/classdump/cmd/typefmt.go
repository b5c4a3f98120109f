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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/classdump/pkg/objc/typeenc"
)

func init() {
	rootCmd.AddCommand(typefmtCmd)

	typefmtCmd.Flags().BoolP("method", "m", false, "Treat encodings as method signatures (name is the selector)")
	typefmtCmd.Flags().BoolP("expand", "e", false, "Expand struct/union bodies inline")
	typefmtCmd.Flags().StringP("file", "f", "", "Read 'name encoding' pairs from file ('-' for stdin)")
	viper.BindPFlag("typefmt.method", typefmtCmd.Flags().Lookup("method"))
	viper.BindPFlag("typefmt.expand", typefmtCmd.Flags().Lookup("expand"))
	viper.BindPFlag("typefmt.file", typefmtCmd.Flags().Lookup("file"))
}

// typefmtCmd represents the typefmt command
var typefmtCmd = &cobra.Command{
	Use:   "typefmt [name=encoding ...]",
	Short: "Render ObjC type encodings as declarations",
	Example: heredoc.Doc(`
		# Render a variable declaration
		❯ classdump typefmt 'name=@"NSString"'
		# Render a method signature
		❯ classdump typefmt --method 'setObject:forKey:=v32@0:8@16@24'
		# Bulk render from stdin, one 'name encoding' pair per line
		❯ cat encodings.txt | classdump typefmt -f -`),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		var pairs [][2]string
		for _, arg := range args {
			name, enc, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("argument %q is not a name=encoding pair", arg)
			}
			pairs = append(pairs, [2]string{name, enc})
		}
		if path := viper.GetString("typefmt.file"); path != "" {
			in := os.Stdin
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				name, enc, ok := strings.Cut(line, " ")
				if !ok {
					log.Warnf("skipping malformed line: %q", line)
					continue
				}
				pairs = append(pairs, [2]string{name, strings.TrimSpace(enc)})
			}
			if err := scanner.Err(); err != nil {
				return err
			}
		}
		if len(pairs) == 0 {
			return fmt.Errorf("nothing to format; pass name=encoding args or --file")
		}

		fmtr := typeenc.Formatter{Opts: typeenc.Options{Expand: viper.GetBool("typefmt.expand")}}
		asMethod := viper.GetBool("typefmt.method")
		for _, pair := range pairs {
			name, enc := pair[0], pair[1]
			for _, m := range typeenc.CheckBalance(enc) {
				log.Warnf("%s: unbalanced encoding: %s", name, m)
			}
			if asMethod {
				fmt.Println(fmtr.FormatMethod(name, enc, false))
			} else {
				fmt.Println(fmtr.FormatVariable(name, typeenc.Parse(enc)) + ";")
			}
		}
		return nil
	},
}
