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
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/apex/log"
	"golang.org/x/term"

	"github.com/blacktop/classdump/internal/magic"
	"github.com/blacktop/classdump/pkg/dsc"
	"github.com/blacktop/classdump/pkg/macho"
)

// openTarget resolves command args to a single MachO slice:
// a thin file as-is, one slice of a fat file (picked by --arch, or
// interactively when several slices exist and stdin is a terminal), or a
// dylib inside a dyld shared cache when the first arg is a cache.
func openTarget(args []string, arch string) (*macho.File, *dsc.Cache, string, error) {
	if ok, _ := magic.IsDyldSharedCache(args[0]); ok {
		if len(args) < 2 {
			return nil, nil, "", fmt.Errorf("must provide an in-cache DYLIB to dump")
		}
		cache, err := dsc.Open(args[0])
		if err != nil {
			return nil, nil, "", err
		}
		entry, err := cache.ImageEntry(args[1])
		if err != nil {
			return nil, nil, "", err
		}
		f, err := cache.Image(args[1])
		if err != nil {
			return nil, nil, "", err
		}
		return f, cache, filepath.Base(entry.Path), nil
	}

	if ok, err := magic.IsMachO(args[0]); !ok {
		return nil, nil, "", err
	}
	b, err := macho.Open(args[0])
	if err != nil {
		return nil, nil, "", err
	}
	f, err := pickSlice(b, arch)
	if err != nil {
		return nil, nil, "", err
	}
	return f, nil, filepath.Base(args[0]), nil
}

func pickSlice(b *macho.Binary, arch string) (*macho.File, error) {
	if b.Fat == nil {
		return b.Thin, nil
	}
	if arch != "" {
		return b.Fat.SliceFor(arch)
	}
	if len(b.Fat.Arches) == 1 {
		return b.Fat.Slice(0)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return b.Best()
	}
	names := b.ArchNames()
	choice := 0
	prompt := &survey.Select{
		Message: "Detected a universal MachO file, please select an architecture to analyze:",
		Options: names,
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		if err == terminal.InterruptErr {
			log.Info("Exiting...")
			os.Exit(0)
		}
		return nil, err
	}
	return b.Fat.Slice(choice)
}

// buildInfo pulls the build/source version strings used in header banners.
func buildInfo(f *macho.File) (buildVersions []string, sourceVersion string) {
	for _, l := range f.Loads {
		switch c := l.(type) {
		case *macho.BuildVersion:
			buildVersions = append(buildVersions, c.String())
		case *macho.SourceVersion:
			sourceVersion = c.String()
		}
	}
	return
}
