package main

import (
	"fmt"
	"io"

	"github.com/dgnsrekt/lectern/internal/chunk"
	"github.com/dgnsrekt/lectern/internal/config"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan FILE|ID",
	Short: "Show how a document is split for synthesis",
	Long: paragraph(fmt.Sprintf("\nPrint the %s a document is narrated in, with their word ranges and estimated duration at the configured speed.",
		keyword("chunks"))),
	Example: paragraph("lectern plan walden.txt\nlectern plan --wpm 250 6f1c0e2a"),
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openLibrary(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		rec, doc, err := a.open(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s · %s words\n\n", keyword(rec.Title), humanize.Comma(int64(doc.Len())))
		printPlan(cmd.OutOrStdout(), doc, cfg, int(width)) //nolint:gosec
		return nil
	},
}

func printPlan(w io.Writer, doc document.Document, cfg config.Config, width int) {
	settings := cfg.Settings()
	chunker := chunk.Chunker{MinWords: settings.MinWords, MaxWords: settings.MaxWords}
	chunks := chunker.Split(doc.Words)

	total := 0.0
	for i, c := range chunks {
		secs := float64(c.WordCount) * 60 / float64(settings.WPM)
		total += secs
		head := fmt.Sprintf("%4d  %6d-%-6d %5.1fs  ", i+1, c.Start, c.End()-1, secs)
		text := truncate.StringWithTail(c.Text, uint(max(10, width-len(head))), "…") //nolint:gosec
		fmt.Fprintf(w, "%s%s\n", faint(head), text)
	}
	fmt.Fprintf(w, "\n%d chunks · about %.0f min at %d wpm (%s)\n",
		len(chunks), total/60, settings.WPM, presetName(settings.WPM))
}

func presetName(wpm int) string {
	for _, p := range playback.Presets() {
		if p.WPM == wpm {
			return p.Name
		}
	}
	return "custom"
}
