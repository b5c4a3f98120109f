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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/blacktop/classdump/internal/commands/dump"
	"github.com/blacktop/classdump/internal/magic"
	"github.com/blacktop/classdump/pkg/macho"
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("output", "o", "headers", "Folder to write headers to")
	scanCmd.MarkFlagDirname("output")
	scanCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "Number of files to process in parallel")
	viper.BindPFlag("scan.output", scanCmd.Flags().Lookup("output"))
	viper.BindPFlag("scan.jobs", scanCmd.Flags().Lookup("jobs"))
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <DIR>",
	Short: "Class-dump every MachO under a directory into header trees",
	Example: heredoc.Doc(`
		# Dump every framework binary in an app bundle
		❯ classdump scan -o ./headers MyApp.app`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Verbose {
			log.SetLevel(log.DebugLevel)
		}

		output := viper.GetString("scan.output")
		if err := os.MkdirAll(output, 0o750); err != nil {
			return err
		}

		var machos []string
		if err := filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if ok, _ := magic.IsMachO(path); ok {
				machos = append(machos, path)
			}
			return nil
		}); err != nil {
			return err
		}
		if len(machos) == 0 {
			return fmt.Errorf("no MachO files found under %s", args[0])
		}
		log.Infof("Scanning %d MachO files", len(machos))

		p := mpb.New(
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar := p.New(int64(len(machos)),
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "✅ "),
			),
		)

		jobs := int64(viper.GetInt("scan.jobs"))
		if jobs < 1 {
			jobs = 1
		}
		sem := semaphore.NewWeighted(jobs)

		return ctrlc.Default.Run(context.Background(), func() error {
			g, ctx := errgroup.WithContext(context.Background())
			for _, path := range machos {
				path := path
				if err := sem.Acquire(ctx, 1); err != nil {
					break
				}
				g.Go(func() error {
					defer sem.Release(1)
					defer bar.Increment()
					if err := scanOne(path, output); err != nil {
						// one bad file never stops the batch
						log.WithError(err).Warnf("skipping %s", path)
					}
					return nil
				})
			}
			err := g.Wait()
			p.Wait()
			return err
		})
	},
}

func scanOne(path, output string) error {
	b, err := macho.Open(path)
	if err != nil {
		return err
	}
	// batch mode never prompts; always take the best local match
	f, err := b.Best()
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if id := f.DylibID(); id != "" {
		name = filepath.Base(id)
	}
	bvs, sv := buildInfo(f)
	o, err := dump.New(f, nil, &dump.Config{
		Name:          name,
		AppVersion:    fmt.Sprintf("Version: %s, BuildTime: %s", strings.TrimSpace(AppVersion), strings.TrimSpace(AppBuildTime)),
		BuildVersions: bvs,
		SourceVersion: sv,
		Output:        output,
	})
	if err != nil {
		if errors.Is(err, dump.ErrNoObjC) {
			return nil
		}
		return err
	}
	return o.Headers()
}
