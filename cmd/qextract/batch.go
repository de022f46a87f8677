package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/local/questionextractor/internal/assemble"
)

var batchExts = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".odt": true, ".rtf": true, ".pptx": true,
}

func batchCmd(g *globals) *cobra.Command {
	var out string
	var workers int
	var withEnrich bool

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every document below a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collect(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no documents found in %s", args[0])
			}
			p, err := g.newPipeline(cmd.Context(), out, withEnrich)
			if err != nil {
				return err
			}

			start := time.Now()
			var ok, failed atomic.Int64
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.SetLimit(max(workers, 1))
			for _, f := range files {
				eg.Go(func() error {
					doc, err := p.run(ctx, f, withEnrich, true)
					switch {
					case err != nil:
						log.Error().Err(err).Str("file", f).Msg("extraction failed")
						failed.Add(1)
					case doc.Status == assemble.StatusFailed:
						failed.Add(1)
					default:
						ok.Add(1)
					}
					// one bad document does not stop the batch
					return nil
				})
			}
			_ = eg.Wait()
			log.Info().Int("documents", len(files)).Int64("ok", ok.Load()).Int64("failed", failed.Load()).
				Dur("duration", time.Since(start)).Msg("batch finished")
			if n := failed.Load(); n > 0 {
				return fmt.Errorf("%d of %d documents failed", n, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "result directory (default: RESULT_DIR)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "documents processed in parallel")
	cmd.Flags().BoolVar(&withEnrich, "enrich", false, "describe image assets with the configured vision providers")
	return cmd
}

// collect lists supported documents below dir in lexical order.
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if batchExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
