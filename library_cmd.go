package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgnsrekt/lectern/internal/cache"
	"github.com/dgnsrekt/lectern/internal/library"
	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
)

var (
	importPaths []string
	deleteIDs   []string
	showStats   bool

	libraryCmd = &cobra.Command{
		Use:   "library [FILTER]",
		Short: "List, import and remove documents",
		Long: paragraph(fmt.Sprintf("\nList the documents in the library, most recently read first. "+
			"A %s narrows the list by fuzzy title match.", keyword("filter"))),
		Example: paragraph("lectern library\nlectern library wald\nlectern library --import walden.txt\nlectern library --stats"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runLibrary,
	}
)

func runLibrary(cmd *cobra.Command, args []string) error {
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
	out := cmd.OutOrStdout()

	for _, p := range importPaths {
		recs, err := a.importPath(ctx, p)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Fprintf(out, "Imported %s %s\n", keyword(rec.Title), faint(shortID(rec.ID)))
		}
	}
	for _, id := range deleteIDs {
		rec, err := a.resolve(ctx, id)
		if err != nil {
			return err
		}
		if err := a.library.Delete(ctx, rec.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %s\n", keyword(rec.Title))
	}
	if len(importPaths) > 0 || len(deleteIDs) > 0 {
		return nil
	}

	if showStats {
		a.openCache(cfg)
		if a.cache == nil {
			return fmt.Errorf("audio cache unavailable at %s", cfg.Cache.Dir)
		}
		printCacheStats(out, a.cache.Stats())
		return nil
	}

	recs, err := a.library.List(ctx)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		recs = filterRecords(recs, args[0])
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, paragraph("\nNo documents. Import one with "+keyword("lectern FILE")+".\n"))
		return nil
	}
	printRecords(out, recs)
	return nil
}

type titles []library.Record

func (t titles) String(i int) string { return t[i].Title }
func (t titles) Len() int            { return len(t) }

// filterRecords keeps the records whose title fuzzy-matches term, best
// match first.
func filterRecords(recs []library.Record, term string) []library.Record {
	matches := fuzzy.FindFrom(term, titles(recs))
	filtered := make([]library.Record, 0, len(matches))
	for _, m := range matches {
		filtered = append(filtered, recs[m.Index])
	}
	return filtered
}

func printRecords(w io.Writer, recs []library.Record) {
	for _, r := range recs {
		read := "never read"
		if !r.LastRead.IsZero() {
			read = "read " + humanize.Time(r.LastRead)
		}
		fmt.Fprintf(w, "%s  %s\n", faint(shortID(r.ID)), keyword(r.Title))
		fmt.Fprintf(w, "          %s words · %.0f%% · %d bookmarks · %s\n",
			humanize.Comma(int64(r.Words)), r.Progress, len(r.Bookmarks), read)
	}
}

func printCacheStats(w io.Writer, st cache.ManagerStats) {
	var b strings.Builder
	fmt.Fprintf(&b, "Audio cache\n\n")
	fmt.Fprintf(&b, "  memory  %s of %s, %d items\n",
		humanize.IBytes(uint64(st.Memory.Size)), humanize.IBytes(uint64(st.Memory.Capacity)), st.Memory.Items) //nolint:gosec
	fmt.Fprintf(&b, "  disk    %s of %s, %d items\n",
		humanize.IBytes(uint64(st.Disk.Size)), humanize.IBytes(uint64(st.Disk.Capacity)), st.Disk.Items) //nolint:gosec
	fmt.Fprintf(&b, "  hits    %d (%d memory, %d disk), %d misses, %.0f%% hit rate\n",
		st.Hits, st.MemoryHits, st.DiskHits, st.Misses, st.HitRate()*100)
	if !st.LastCleanup.IsZero() {
		fmt.Fprintf(&b, "  cleaned %s\n", humanize.Time(st.LastCleanup))
	}
	fmt.Fprint(w, b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	libraryCmd.Flags().StringSliceVar(&importPaths, "import", nil, "import text files, or every text file under a directory, into the library")
	libraryCmd.Flags().StringSliceVar(&deleteIDs, "delete", nil, "remove documents by ID")
	libraryCmd.Flags().BoolVar(&showStats, "stats", false, "show audio cache statistics")
	libraryCmd.MarkFlagsMutuallyExclusive("import", "delete", "stats")
}
