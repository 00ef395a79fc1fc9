package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# reading speed in words per minute (50-600)
narration:
  wpm: 180
  # Puck, Charon, Kore, Fenrir or Zephyr
  voice: "Puck"
  # ai (Gemini), local (piper) or polly (Amazon Polly)
  engine: "ai"
  # words per synthesized chunk
  min_words: 15
  max_words: 60
  # highlight refresh interval
  tick: "50ms"

gemini:
  # read from GEMINI_API_KEY or API_KEY when empty
  api_key: ""
  requests_per_minute: 60
  timeout: "30s"

piper:
  binary: "piper"
  # model: "~/.local/share/piper/en_US-lessac-medium.onnx"
  sample_rate: 22050
  timeout: "30s"

polly:
  # credentials come from the AWS environment or shared config
  region: "us-east-1"
  requests_per_minute: 60
  timeout: "30s"

cache:
  # defaults to the user cache directory
  dir: ""
  memory_mb: 64
  disk_mb: 512
  # zstd level for the disk tier (0-22)
  compression_level: 3
  ttl_days: 7

library:
  # defaults to the user data directory
  path: ""

live:
  # gemini or nats
  transport: "gemini"
  # words of surrounding text shared with the live model
  context_words: 300
  # capture command, {rate} is replaced by the sample rate
  # recorder: ["arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-c", "1", "-r", "{rate}"]
  nats:
    servers: "nats://127.0.0.1:4222"
    subject_prefix: "lectern.live"
    timeout: "5s"

telemetry:
  # serve Prometheus metrics, e.g. "127.0.0.1:9464"
  metrics_addr: ""
  otlp_endpoint: ""
  otlp_insecure: false
  trace_stdout: false

debug: false
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the lectern config file",
	Long:    paragraph(fmt.Sprintf("\n%s the lectern config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("lectern config\nlectern config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Lectern", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
