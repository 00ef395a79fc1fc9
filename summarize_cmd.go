package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/assistant"
	"github.com/dgnsrekt/lectern/internal/bookmark"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/spf13/cobra"
)

var (
	blockNumber int

	summarizeCmd = &cobra.Command{
		Use:   "summarize FILE|ID",
		Short: "Summarize the paragraph you are reading",
		Long: paragraph(fmt.Sprintf("\n%s the paragraph at the saved reading position, or the one given with --block.",
			keyword("Summarize"))),
		Example: paragraph("lectern summarize walden.txt\nlectern summarize 6f1c0e2a --block 12"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPassage(cmd, args[0], func(ctx context.Context, c *assistant.Client, doc document.Document, block int) (string, string, error) {
				text := doc.BlockText(block)
				answer, err := c.Summarize(ctx, text)
				if err != nil {
					return "", assistant.FallbackAnalysis, err
				}
				return fmt.Sprintf("Summary of paragraph %d", block+1), answer, nil
			})
		},
	}

	askCmd = &cobra.Command{
		Use:     "ask FILE|ID QUESTION",
		Short:   "Ask a question about the text you are reading",
		Long:    paragraph(fmt.Sprintf("\n%s a question about the text from the saved reading position onward.", keyword("Ask"))),
		Example: paragraph("lectern ask walden.txt \"why did he go to the woods?\""),
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return withPassage(cmd, args[0], func(ctx context.Context, c *assistant.Client, doc document.Document, block int) (string, string, error) {
				excerpt := doc.Window(doc.Blocks[block].StartIndex, doc.Len())
				answer, err := c.Chat(ctx, excerpt, nil, question)
				if err != nil {
					return "", assistant.FallbackChat, err
				}
				return question, answer, nil
			})
		},
	}
)

type passageFunc func(ctx context.Context, c *assistant.Client, doc document.Document, block int) (title, text string, err error)

// withPassage opens the document named by arg, finds the block at the saved
// position and prints what fn makes of it.
func withPassage(cmd *cobra.Command, arg string, fn passageFunc) error {
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

	a.openAssistant(cfg)
	if a.assistant == nil {
		return errors.New("the assistant needs an API key: set GEMINI_API_KEY or gemini.api_key")
	}

	rec, doc, err := a.open(ctx, arg)
	if err != nil {
		return err
	}
	block, err := pickBlock(doc, rec.Progress, blockNumber)
	if err != nil {
		return err
	}

	title, text, err := fn(ctx, a.assistant, doc, block)
	if err != nil {
		log.Error("Assistant request failed", "document", rec.ID, "error", err)
		fmt.Fprintln(cmd.ErrOrStderr(), text)
		return nil
	}
	out, err := renderMarkdown(fmt.Sprintf("## %s\n\n%s", title, text))
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

// pickBlock returns the block holding the saved position, or block n when
// n is given. Blocks are numbered from one on the command line.
func pickBlock(doc document.Document, progress float64, n int) (int, error) {
	if len(doc.Blocks) == 0 {
		return 0, errors.New("document has no text")
	}
	if n > 0 {
		if n > len(doc.Blocks) {
			return 0, fmt.Errorf("block %d is out of range: the document has %d", n, len(doc.Blocks))
		}
		return n - 1, nil
	}
	i, _ := doc.BlockAt(bookmark.IndexFromProgress(progress, doc.Len()))
	if i < 0 {
		// finished documents sit just past the last word
		i = len(doc.Blocks) - 1
	}
	return i, nil
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(int(width)), //nolint:gosec
	)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("unable to render markdown: %w", err)
	}
	return out, nil
}

func init() {
	summarizeCmd.Flags().IntVarP(&blockNumber, "block", "b", 0, "paragraph number to summarize (default: the saved position)")
	askCmd.Flags().IntVarP(&blockNumber, "block", "b", 0, "paragraph number to start the excerpt at (default: the saved position)")
}
