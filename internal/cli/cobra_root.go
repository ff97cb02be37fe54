// Package cli builds the cobra command tree for the complete binary.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"complete/internal/app"
	"complete/internal/config"
	"complete/internal/term"
)

// flagValues holds raw flag values; only flags the user set are applied.
type flagValues struct {
	configPath string
	envFile    string
	baseURL    string
	backend    string
	model      string
	preset     string
	gpuOffload string
	keepAlive  bool
	verbose    bool
	color      string
	logLevel   string
	modelsDir  string
	llamaCtx   int
	threads    int
	pushURL    string
}

// Execute runs the root command and returns the process exit code.
// A run that fails while stdout is mid-line (a progress line or partial
// completion) gets a newline first so the error starts on its own row.
func Execute(ctx context.Context, args []string, streams app.Streams) int {
	out := &lineWriter{w: streams.Out}
	streams.Out = out
	c := newCommand(streams)
	c.root.SetArgs(args)
	c.root.SetOut(out)
	c.root.SetErr(streams.Err)
	if err := c.root.ExecuteContext(ctx); err != nil {
		palette := c.palette
		if palette == nil {
			palette = term.NewPalette(term.ParseColorMode(config.DefaultColor))
		}
		if out.midLine {
			_, _ = io.WriteString(out, "\n")
		}
		palette.Error(streams.Err, err)
		return 1
	}
	return 0
}

// lineWriter tracks whether the last byte written was a newline.
type lineWriter struct {
	w       io.Writer
	midLine bool
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if n > 0 {
		l.midLine = p[n-1] != '\n'
	}
	return n, err
}

// NewRootCmd constructs the command tree.
func NewRootCmd(streams app.Streams) *cobra.Command { return newCommand(streams).root }

type command struct {
	root *cobra.Command
	// palette is set once the configuration is known so that a fatal error
	// honors the color setting.
	palette *term.Palette
	flags   *flagValues
}

func newCommand(streams app.Streams) *command {
	fv := &flagValues{}
	c := &command{flags: fv}
	root := &cobra.Command{
		Use:   "complete",
		Short: "Continue a line of text with a local language model",
		Long: "complete attaches to (or loads) a base model on a local inference server,\n" +
			"reads one line from standard input and streams the model's continuation.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, os.LookupEnv)
			if err != nil {
				return err
			}
			c.palette = term.NewPalette(term.ParseColorMode(cfg.Color))
			a, err := app.New(cfg, streams)
			if err != nil {
				return err
			}
			c.palette = a.Palette()
			return a.Run(cmd.Context())
		},
	}
	c.root = root

	f := root.PersistentFlags()
	f.StringVarP(&fv.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .toml)")
	f.StringVar(&fv.envFile, "env-file", ".env", "Dotenv file with "+config.EnvPrefix+"* variables (ignored if missing)")
	f.StringVarP(&fv.model, "model", "m", config.DefaultModel, "Model path prefix to attach to or load")
	f.StringVar(&fv.baseURL, "base-url", config.DefaultBaseURL, "Inference server base URL")
	f.StringVar(&fv.backend, "backend", config.DefaultBackend, "Backend: lmstudio|llama")
	f.StringVar(&fv.preset, "preset", config.DefaultPreset, "Parameter preset applied at load time")
	f.StringVar(&fv.gpuOffload, "gpu-offload", config.DefaultGPUOffload, "GPU offload policy: max|off|<layers>")
	f.BoolVar(&fv.keepAlive, "keep-alive", true, "Keep the model loaded after exit")
	f.BoolVarP(&fv.verbose, "verbose", "v", false, "Verbose load and debug logging")
	f.StringVar(&fv.color, "color", config.DefaultColor, "Color output: auto|always|never")
	f.StringVar(&fv.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug|info|warn|error|off")
	f.StringVar(&fv.modelsDir, "models-dir", config.DefaultModelsDir, "Models directory for the llama backend")
	f.IntVar(&fv.llamaCtx, "llama-ctx", config.DefaultLlamaCtx, "Context size for the llama backend")
	f.IntVar(&fv.threads, "llama-threads", 0, "Threads for the llama backend (0 = library default)")
	f.StringVar(&fv.pushURL, "pushgateway", "", "Prometheus Pushgateway URL for run metrics")

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cmd.OutOrStdout()) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cmd.OutOrStdout(), true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout()) }})
	root.AddCommand(completionCmd)

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv, os.LookupEnv)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return c
}

// resolveConfig applies defaults, then the config file, then the
// environment (after loading the dotenv file), then explicitly set flags.
func resolveConfig(cmd *cobra.Command, fv *flagValues, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if fv.configPath != "" {
		fileCfg, err := config.Load(fv.configPath)
		if err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		cfg = cfg.Merge(fileCfg)
	}
	if err := config.LoadDotEnv(fv.envFile); err != nil {
		return cfg, fmt.Errorf("env file: %w", err)
	}
	envCfg, err := config.FromEnv(lookup)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.Merge(envCfg)

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("base-url", func() { cfg.BaseURL = fv.baseURL })
	set("backend", func() { cfg.Backend = fv.backend })
	set("model", func() { cfg.Model = fv.model })
	set("preset", func() { cfg.Preset = fv.preset })
	set("gpu-offload", func() { cfg.GPUOffload = fv.gpuOffload })
	set("keep-alive", func() { v := fv.keepAlive; cfg.KeepAlive = &v })
	set("verbose", func() { v := fv.verbose; cfg.Verbose = &v })
	set("color", func() { cfg.Color = fv.color })
	set("log-level", func() { cfg.LogLevel = fv.logLevel })
	set("models-dir", func() { cfg.ModelsDir = fv.modelsDir })
	set("llama-ctx", func() { cfg.LlamaCtx = fv.llamaCtx })
	set("llama-threads", func() { cfg.LlamaThreads = fv.threads })
	set("pushgateway", func() { cfg.PushgatewayURL = fv.pushURL })
	return cfg, nil
}

func writeConfig(w io.Writer, cfg config.Config) error {
	b, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
