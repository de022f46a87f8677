package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/questionextractor/internal/assemble"
	"github.com/local/questionextractor/internal/engine"
)

func extractCmd(g *globals) *cobra.Command {
	var out string
	var withEnrich bool
	var toStdout bool

	cmd := &cobra.Command{
		Use:   "extract <pdf>...",
		Short: "Extract questions from one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.newPipeline(cmd.Context(), out, withEnrich)
			if err != nil {
				return err
			}
			failed := 0
			for _, ref := range args {
				doc, err := p.run(cmd.Context(), ref, withEnrich, !toStdout)
				if err != nil {
					log.Error().Err(err).Str("file", ref).Msg("extraction failed")
					failed++
					continue
				}
				if toStdout {
					if err := writeDoc(cmd.OutOrStdout(), doc); err != nil {
						return err
					}
				}
				if doc.Status == assemble.StatusFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "result directory (default: RESULT_DIR)")
	cmd.Flags().BoolVar(&withEnrich, "enrich", false, "describe image assets with the configured vision providers")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "print the document JSON instead of writing result files")
	return cmd
}

// run extracts one document and, when save is set, writes it with its assets.
func (p *pipeline) run(ctx context.Context, ref string, withEnrich, save bool) (*assemble.Document, error) {
	src, err := p.resolver.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	doc, err := p.engine.Run(ctx, engine.Input{PDFPath: src.Path, PDFName: src.Name, Enrich: withEnrich})
	if err != nil {
		return nil, err
	}
	doc.Metadata.PDFPath = ref
	if !save {
		return doc, nil
	}
	written, err := p.output.Write(ctx, "", src.Path, doc)
	if err != nil {
		return nil, err
	}
	ev := log.Info()
	if doc.Status == assemble.StatusFailed {
		ev = log.Warn()
		if doc.Error != nil {
			ev = ev.Str("reason", doc.Error.Reason)
		}
	}
	ev.Str("file", ref).Int("questions", doc.Stats.TotalQuestions).Int("assets", written.Assets).
		Str("json", written.JSONPath).Msg("document extracted")
	return doc, nil
}

func writeDoc(w io.Writer, doc *assemble.Document) error {
	data, err := assemble.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
