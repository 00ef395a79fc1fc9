// Package main provides the entry point for the lectern CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/lectern/internal/config"
	"github.com/dgnsrekt/lectern/internal/document"
	"github.com/dgnsrekt/lectern/internal/playback"
	"github.com/dgnsrekt/lectern/internal/reader"
	"github.com/dgnsrekt/lectern/ui"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	preset     string
	width      uint
	mouse      bool

	rootCmd = &cobra.Command{
		Use:   "lectern [FILE|ID]",
		Short: "Read text aloud in the terminal",
		Long: paragraph(
			fmt.Sprintf("\nRead plain text aloud in the terminal, %s.", keyword("following along word by word")),
		),
		Example:          paragraph("lectern walden.txt\nlectern --preset speed --voice kore walden.txt\nlectern 6f1c0e2a-…"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// validateOptions reads an explicit config file, folds the preset into the
// narration speed and detects the terminal width.
func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	if preset != "" {
		p, err := playback.ParsePreset(preset)
		if err != nil {
			return err
		}
		// An explicit --wpm wins over the preset.
		if f := cmd.Flags().Lookup("wpm"); f == nil || !f.Changed {
			viper.Set("narration.wpm", p.WPM)
		}
	}

	mouse = viper.GetBool("mouse")
	width = viper.GetUint("width")
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if !cmd.Flags().Changed("width") {
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// loadConfig reads the merged flag, environment and file configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	rec, doc, err := a.open(ctx, arg)
	if err != nil {
		return err
	}
	if doc.Len() == 0 {
		return fmt.Errorf("%s has no words to read", rec.Title)
	}

	a.openOutput()
	session := reader.New(reader.Config{
		ID:           rec.ID,
		Title:        rec.Title,
		Document:     doc,
		Progress:     rec.Progress,
		Bookmarks:    rec.Bookmarks,
		Synth:        a.synth,
		Output:       a.output,
		Settings:     cfg.Settings(),
		Live:         a.liveSession(cfg),
		ContextWords: cfg.Live.ContextWords,
		Store:        a.library,
		Assistant:    a.assistantOrNil(),
		Logger:       log.Default(),
	})
	defer session.Close() //nolint:errcheck

	return runTUI(ctx, a, session, rec.Path)
}

func runTUI(ctx context.Context, a *app, session *reader.Session, path string) error {
	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	cfg.Path = path
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse

	p := ui.NewProgram(ctx, cfg, session)

	if path != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err := document.Watch(watchCtx, path, func(doc document.Document, content string) {
			if err := session.Reload(watchCtx, doc); err != nil {
				log.Error("Could not reload document", "path", path, "error", err)
			}
			if err := a.library.UpdateContent(watchCtx, session.ID(), content); err != nil {
				log.Error("Could not store reloaded document", "path", path, "error", err)
			}
			p.Send(ui.DocumentReloadedMsg{Words: doc.Len()})
		}, log.Default())
		if err != nil {
			log.Warn("Not watching document for changes", "path", path, "error", err)
		}
	}

	// Run Bubble Tea program
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		_ = closer()
		os.Exit(1)
	}
	stop()
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().Int("wpm", playback.BaseWPM, "reading speed in words per minute (50-600)")
	rootCmd.PersistentFlags().String("voice", "Puck", "narration voice (Puck, Charon, Kore, Fenrir, Zephyr)")
	rootCmd.PersistentFlags().String("engine", "ai", "synthesis engine (ai, local or polly)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "reading speed preset (relaxed, standard or speed)")
	rootCmd.PersistentFlags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to detect)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("narration.wpm", rootCmd.PersistentFlags().Lookup("wpm"))
	_ = viper.BindPFlag("narration.voice", rootCmd.PersistentFlags().Lookup("voice"))
	_ = viper.BindPFlag("narration.engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("width", rootCmd.PersistentFlags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))

	viper.SetDefault("width", 0)
	viper.SetDefault("mouse", false)
	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd, libraryCmd, bookmarksCmd, summarizeCmd, askCmd, planCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, config.AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, config.AppName)}, dirs...)
	}

	if c := os.Getenv("LECTERN_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], config.AppName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
