package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/library"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	exportPath string

	bookmarksCmd = &cobra.Command{
		Use:   "bookmarks FILE|ID",
		Short: "List or export the bookmarks of a document",
		Long: paragraph(fmt.Sprintf("\nList the bookmarks of a document in reading order, or %s them as YAML.",
			keyword("export"))),
		Example: paragraph("lectern bookmarks walden.txt\nlectern bookmarks 6f1c0e2a --export marks.yml\nlectern bookmarks 6f1c0e2a --export -"),
		Args:    cobra.ExactArgs(1),
		RunE:    runBookmarks,
	}
)

func runBookmarks(cmd *cobra.Command, args []string) error {
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

	rec, err := a.resolve(ctx, args[0])
	if err != nil {
		return err
	}

	if exportPath == "" {
		printBookmarks(cmd.OutOrStdout(), rec)
		return nil
	}

	w := cmd.OutOrStdout()
	if exportPath != "-" {
		f, err := os.Create(exportPath)
		if err != nil {
			return fmt.Errorf("unable to create export file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := writeExport(w, rec, time.Now()); err != nil {
		return fmt.Errorf("unable to export bookmarks: %w", err)
	}
	if exportPath != "-" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d bookmarks to %s\n", len(rec.Bookmarks), exportPath)
	}
	return nil
}

func writeExport(w io.Writer, rec library.Record, now time.Time) error {
	return bookmark.WriteYAML(w, bookmark.Export{
		Title:     rec.Title,
		Progress:  rec.Progress,
		Exported:  now.UTC(),
		Bookmarks: rec.Bookmarks,
	})
}

func printBookmarks(w io.Writer, rec library.Record) {
	if len(rec.Bookmarks) == 0 {
		fmt.Fprintln(w, paragraph(fmt.Sprintf("\nNo bookmarks in %s.\n", keyword(rec.Title))))
		return
	}
	fmt.Fprintf(w, "%s · %.0f%% read\n\n", keyword(rec.Title), rec.Progress)
	for _, b := range rec.Bookmarks {
		fmt.Fprintf(w, "  %6s  %s  %s\n",
			humanize.Comma(int64(b.WordIndex)), b.PreviewText, faint(humanize.Time(b.Created())))
		if b.Note != "" {
			fmt.Fprintf(w, "          %s\n", faint(b.Note))
		}
	}
}

func init() {
	bookmarksCmd.Flags().StringVarP(&exportPath, "export", "e", "", `write the bookmarks as YAML to a file ("-" for stdout)`)
}
