// Package main provides the CLI entrypoint for stampclock.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verte-zerg/stampclock/internal/batch"
	"github.com/verte-zerg/stampclock/internal/config"
	"github.com/verte-zerg/stampclock/internal/digit"
	"github.com/verte-zerg/stampclock/internal/historyui"
	"github.com/verte-zerg/stampclock/internal/logging"
	"github.com/verte-zerg/stampclock/internal/model"
	"github.com/verte-zerg/stampclock/internal/report"
	"github.com/verte-zerg/stampclock/internal/store"
	"github.com/verte-zerg/stampclock/internal/tally"
	"github.com/verte-zerg/stampclock/internal/timestamp"
	"github.com/verte-zerg/stampclock/internal/video"
)

const (
	defaultInputSize    = 28
	defaultHistoryLimit = 200
)

var (
	configPath string
	dbPath     string

	scanModel     string
	scanBackend   string
	scanTemplates string
	scanTimezone  string
	scanExtension string
	scanWorkers   int
	scanTimeout   string
	scanFFmpeg    string
	scanLogLevel  string
	scanNoStore   bool
	scanNoChart   bool
	scanColor     bool

	reportColor bool

	historyLimit int

	templatesForce bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stampclock [dir...]",
		Short:         "Sum recorded time per hour of day from burned-in video timestamps",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.ArbitraryArgs,
		RunE:          runScanCmd,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file (TOML, or JSON with a .json extension)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "run history database")

	rootCmd.Flags().StringVar(&scanModel, "model", "", "ONNX digit model path")
	rootCmd.Flags().StringVar(&scanBackend, "backend", string(config.DefaultBackend), "digit backend: onnx or template")
	rootCmd.Flags().StringVar(&scanTemplates, "templates", "", "directory with 0.png..9.png digit templates")
	rootCmd.Flags().StringVar(&scanTimezone, "timezone", "", "zone of the burned-in timestamps (IANA name or Local)")
	rootCmd.Flags().StringVar(&scanExtension, "ext", config.DefaultExtension, "video file extension")
	rootCmd.Flags().IntVar(&scanWorkers, "workers", config.DefaultWorkers, "videos processed in parallel")
	rootCmd.Flags().StringVar(&scanTimeout, "timeout", config.DefaultVideoTimeout.String(), "per-video time limit")
	rootCmd.Flags().StringVar(&scanFFmpeg, "ffmpeg", config.DefaultFFmpegPath, "ffmpeg binary")
	rootCmd.Flags().StringVar(&scanLogLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&scanNoStore, "no-store", false, "do not save the run to history")
	rootCmd.Flags().BoolVar(&scanNoChart, "no-chart", false, "do not print the hour chart")
	rootCmd.Flags().BoolVar(&scanColor, "color", false, "force colored chart output")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newTemplatesCmd())

	return rootCmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringFlag(cmd, "model", scanModel, &fileCfg.ModelPath)
	applyStringFlag(cmd, "backend", scanBackend, &fileCfg.Backend)
	applyStringFlag(cmd, "templates", scanTemplates, &fileCfg.TemplatesDir)
	applyStringFlag(cmd, "timezone", scanTimezone, &fileCfg.Timezone)
	applyStringFlag(cmd, "ext", scanExtension, &fileCfg.Extension)
	applyIntFlag(cmd, "workers", scanWorkers, &fileCfg.Workers)
	applyStringFlag(cmd, "timeout", scanTimeout, &fileCfg.VideoTimeout)
	applyStringFlag(cmd, "ffmpeg", scanFFmpeg, &fileCfg.FFmpegPath)
	applyStringFlag(cmd, "log-level", scanLogLevel, &fileCfg.LogLevel)

	cfg, err := config.Resolve(fileCfg)
	if err != nil {
		return fmt.Errorf("%w (config file: %s)", err, configPath)
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		// Sync fails on terminals; nothing left to report.
		_ = logger.Sync()
	}()

	dirs := args
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	paths, err := video.List(dirs, cfg.Extension)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logger.Warn("no videos found", zap.Strings("dirs", dirs), zap.String("extension", cfg.Extension))
	}

	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	parser, err := timestamp.New(cfg, digit.NewClassifier(backend))
	if err != nil {
		return &config.FieldError{Field: "date_format", Reason: err.Error()}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := tally.New(cfg.Location)
	runner := batch.New(video.NewFFmpeg(cfg.FFmpegPath), parser, agg, logger, batch.Options{
		Workers: cfg.Workers,
		Timeout: cfg.VideoTimeout,
		OnResult: func(res batch.Result) {
			if res.Err != nil {
				return
			}
			logger.Info("video processed",
				zap.String("video", res.Video),
				zap.String("start", report.FormatTimestamp(res.Interval.FirstTimestamp, cfg.Location)),
				zap.Int64("seconds", res.Interval.DurationSeconds),
			)
		},
	})

	logger.Info("scan started",
		zap.Int("videos", len(paths)),
		zap.Int("workers", cfg.Workers),
		zap.String("backend", string(cfg.Backend)),
		zap.String("timezone", cfg.Location.String()),
	)
	startedAt := time.Now()
	summary := runner.Run(ctx, paths)
	finishedAt := time.Now()

	totals := agg.Totals()
	report.LogHours(logger, totals.Hours)
	report.LogVideos(logger, totals, cfg.Location)
	report.LogSkips(logger, summary.Skipped)
	logger.Info("scan finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Duration("took", finishedAt.Sub(startedAt)),
	)

	if !scanNoChart && (report.IsTerminal(os.Stdout) || scanColor) {
		if err := report.RenderHourBars(os.Stdout, totals.Hours, report.BarWidthFor(report.TerminalWidth()), scanColor); err != nil {
			return err
		}
	}

	if !scanNoStore {
		run := model.Run{
			ID:         uuid.NewString(),
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Sources:    absPaths(dirs),
			TimeZone:   cfg.Location.String(),
			Processed:  summary.Processed,
			Skipped:    summary.Skipped,
			Totals:     totals,
		}
		if err := saveRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Error("failed to save run", zap.Error(err))
		} else {
			logger.Info("run saved", zap.String("id", run.ID))
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	return nil
}

type closeFunc func()

func buildBackend(cfg model.Config) (digit.Backend, closeFunc, error) {
	switch cfg.Backend {
	case model.BackendONNX:
		b, err := digit.NewONNXBackend(digit.ONNXOptions{
			ModelPath:     cfg.ModelPath,
			SharedLibrary: cfg.ONNXRuntimeLib,
			Width:         cfg.InputWidth,
			Height:        cfg.InputHeight,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load model: %w", err)
		}
		return b, func() {
			if cerr := b.Close(); cerr != nil {
				logErrf("failed to release model: %v\n", cerr)
			}
		}, nil
	case model.BackendTemplate:
		width, height := cfg.InputWidth, cfg.InputHeight
		if width == 0 {
			width = defaultInputSize
		}
		if height == 0 {
			height = defaultInputSize
		}
		var (
			b   *digit.TemplateBackend
			err error
		)
		if cfg.TemplatesDir != "" {
			b, err = digit.LoadTemplateDir(cfg.TemplatesDir, width, height)
		} else {
			b, err = digit.NewTemplateBackend(width, height, digit.BuiltinGlyphs())
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load templates: %w", err)
		}
		return b, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func saveRun(ctx context.Context, run model.Run) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	_, err = st.SaveRun(ctx, run)
	return err
}

func absPaths(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		out = append(out, d)
	}
	return out
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print a stored run (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReportCmd,
	}
	cmd.Flags().BoolVar(&reportColor, "color", false, "force colored chart output")
	return cmd
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := resolveRunID(ctx, st, args)
	if err != nil {
		return err
	}
	run, err := st.LoadRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	return writeRunReport(cmd.OutOrStdout(), run, reportColor)
}

func resolveRunID(ctx context.Context, st *store.Store, args []string) (string, error) {
	if len(args) == 1 {
		return st.ResolveID(ctx, args[0])
	}
	id, err := st.LatestRunID(ctx)
	if errors.Is(err, store.ErrRunNotFound) {
		logErrln("No runs stored yet. Scan a directory first: stampclock <dir>")
		return "", err
	}
	return id, err
}

func writeRunReport(w io.Writer, run model.Run, forceColor bool) error {
	loc, err := time.LoadLocation(run.TimeZone)
	if err != nil {
		logErrf("unknown stored time zone %q, showing UTC\n", run.TimeZone)
		loc = time.UTC
	}
	width := 80
	if report.IsTerminal(w) {
		width = report.TerminalWidth()
	}
	return report.RenderRun(w, run, loc, report.BarWidthFor(width), forceColor)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Browse stored runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistoryCmd,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", defaultHistoryLimit, "number of runs to list (0 = all)")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	openID := ""
	if len(args) == 1 {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if openID, err = st.ResolveID(ctx, args[0]); err != nil {
			return err
		}
	}

	ui := historyui.NewModel(st, historyLimit, openID)
	program := tea.NewProgram(ui, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run history TUI: %w", err)
	}
	return nil
}

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates [dir]",
		Short: "Write the built-in digit templates for editing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTemplatesCmd,
	}
	cmd.Flags().BoolVar(&templatesForce, "force", false, "overwrite existing templates")
	return cmd
}

func runTemplatesCmd(_ *cobra.Command, args []string) error {
	dir := config.DefaultTemplatesDir()
	if len(args) == 1 {
		dir = args[0]
	}
	if !templatesForce {
		if _, err := os.Stat(filepath.Join(dir, "0.png")); err == nil {
			return fmt.Errorf("templates already exist in %s (use --force to overwrite)", dir)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat templates: %w", err)
		}
	}
	if err := digit.WriteTemplateDir(dir, digit.BuiltinGlyphs()); err != nil {
		return err
	}
	logErrf("Wrote 0.png..9.png to %s\n", dir)
	logErrf("Set backend = \"template\" and templates_dir = %q in %s\n", dir, configPath)
	return nil
}

func applyStringFlag(cmd *cobra.Command, name, value string, target **string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v := value
	*target = &v
}

func applyIntFlag(cmd *cobra.Command, name string, value int, target **int) {
	if !cmd.Flags().Changed(name) {
		return
	}
	v := value
	*target = &v
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# stampclock configuration
# CLI flags override config values.

# Digit recognition
backend = %q                     # "onnx" or "template"
# model_path = "/path/to/digits.onnx"  # Required for the onnx backend
# onnxruntime_lib = ""               # Path to the onnxruntime shared library
# templates_dir = ""                 # 0.png..9.png for the template backend
# input_width = 0                    # Override the model input width
# input_height = 0                   # Override the model input height

# Timestamp overlay, as fractions of the frame and plate size
plate_bbox_relative = [0.02, 0.55, 0.08, 0.98]  # top, left, bottom, right
digit_positions = [0.0, 0.0714, 0.1429, 0.2143, 0.2857, 0.3571, 0.4286, 0.5, 0.5714, 0.6429, 0.7143, 0.7857, 0.8571, 0.9286]
digit_width = 0.0714
date_format = "%%d%%m%%Y%%H%%M%%S"
timezone = "Local"                # IANA zone of the overlay clock, or "Local"

# Batch
# extension = %q
# workers = %d
# video_timeout = %q
# ffmpeg_path = %q
# log_level = %q
`,
		config.DefaultBackend,
		config.DefaultExtension,
		config.DefaultWorkers,
		config.DefaultVideoTimeout.String(),
		config.DefaultFFmpegPath,
		config.DefaultLogLevel,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
