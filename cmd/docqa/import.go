package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const importUserID = "cli"

func newImportCmd(configPath *string) *cobra.Command {
	var (
		include []string
		exclude []string
		process bool
	)
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "register every matching pdf under dir as a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			files, err := collectFiles(args[0], include, exclude)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("no matching files")
				return nil
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return importFiles(ctx, a, args[0], files, process)
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", []string{"**/*.pdf"}, "glob patterns to import, relative to dir")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to skip, relative to dir")
	cmd.Flags().BoolVar(&process, "process", false, "ingest each source right after registering it")
	return cmd
}

func importFiles(ctx context.Context, a *app, root string, files []string, process bool) error {
	logger := logutil.GetLogger(ctx)
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("importing"),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
	var failed int
	for _, rel := range files {
		if err := importOne(ctx, a, filepath.Join(root, rel), process); err != nil {
			failed++
			logger.Error("import file failed", zap.String("file", rel), zap.Error(err))
		}
		_ = bar.Add(1)
	}
	fmt.Printf("imported %d of %d files\n", len(files)-failed, len(files))
	if failed > 0 {
		return fmt.Errorf("%d files failed to import", failed)
	}
	return nil
}

func importOne(ctx context.Context, a *app, path string, process bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	src, err := a.sources.UploadPDF(ctx, importUserID, filepath.Base(path), f, info.Size())
	if err != nil {
		return err
	}
	if !process {
		return nil
	}
	_, err = a.ingest.ProcessResource(ctx, src.ID, importUserID)
	return err
}

// collectFiles returns paths relative to root, in walk order, that match
// one of include and none of exclude.
func collectFiles(root string, include, exclude []string) ([]string, error) {
	for _, pattern := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchAny(exclude, rel) {
			return nil
		}
		// extensions on disk are not always lower case
		if !matchAny(include, rel) && !matchAny(include, strings.ToLower(rel)) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
