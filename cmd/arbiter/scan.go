package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/phase"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/report"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/tor"
	"github.com/nao1215/arbiter/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Run the reconnaissance pipeline against a domain",
		Long: `Scan runs every phase of the pipeline against a domain and writes a report.

Results are stored in a per-domain session as they are found. Without
--resume any previous session for the domain is discarded first; with
--resume phases completed by an earlier run are skipped.

Modes trade speed for noise:
  stealth   few workers, 2 requests/s, no brute-force enumeration
  standard  moderate concurrency, 10 requests/s
  balanced  higher concurrency, 20 requests/s
  loud      maximum concurrency, no rate limit

Examples:
  # Quiet scan with default settings
  arbiter scan example.com

  # Faster scan, JSON report only
  arbiter scan example.com --mode balanced --format json

  # Continue an interrupted scan
  arbiter scan example.com --mode balanced --resume

  # Route HTTP traffic through an embedded Tor daemon
  arbiter scan example.com --tor

  # Delete the data as soon as the report is written
  arbiter scan example.com --on-finish purge`,
		Args: cobra.ExactArgs(1),
		RunE: runScanCmd,
	}

	cmd.Flags().StringP("mode", "m", string(config.DefaultMode),
		"Scan mode: stealth, standard, balanced, or loud")
	cmd.Flags().BoolP("resume", "r", false,
		"Resume the previous scan of the target")

	cmd.Flags().StringP("config", "c", "",
		"Settings file path (default: ./arbiter.yaml or the XDG config directory)")
	cmd.Flags().String("data-dir", config.XDGSessionDir(),
		"Directory holding session stores")
	cmd.Flags().StringP("output-dir", "o", config.DefaultOutputDir,
		"Directory reports are written under, one subdirectory per domain")
	cmd.Flags().StringSliceP("format", "f", []string{config.FormatHTML, config.FormatMarkdown},
		"Report format: html, markdown, or json (repeatable)")
	cmd.Flags().String("on-finish", config.DefaultOnFinish,
		"What to do with the scan data after the report: ask, keep, or purge")

	cmd.Flags().DurationP("timeout", "t", 0,
		"Timeout for a single request or DNS exchange (default: depends on mode)")
	cmd.Flags().Duration("tool-timeout", config.DefaultToolTimeout,
		"Timeout for a single external tool invocation")

	cmd.Flags().String("proxy", "",
		"Route HTTP traffic through a SOCKS5 proxy (e.g., 127.0.0.1:9050)")
	cmd.Flags().Bool("tor", false,
		"Route HTTP traffic through an embedded Tor daemon")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &scanner{
		out:         cmd.OutOrStdout(),
		in:          cmd.InOrStdin(),
		logger:      logger,
		interactive: term.IsTerminal(int(os.Stdin.Fd())), //nolint:gosec // fd fits in int
		newRegistry: phase.NewRegistry,
	}
	return s.run(ctx, cfg)
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	if len(args) > 0 {
		domain, err := model.NormalizeDomain(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", config.ErrInvalidTarget, args[0])
		}
		cfg.Target = domain
	}

	modeName, err := flags.GetString("mode")
	if err != nil {
		return nil, err
	}
	mode, err := model.ParseMode(modeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, modeName)
	}
	cfg.SetMode(mode)

	if cfg.Resume, err = flags.GetBool("resume"); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = flags.GetString("data-dir"); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = flags.GetString("output-dir"); err != nil {
		return nil, err
	}
	if cfg.ReportFormats, err = flags.GetStringSlice("format"); err != nil {
		return nil, err
	}
	for i, f := range cfg.ReportFormats {
		cfg.ReportFormats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	if cfg.OnFinish, err = flags.GetString("on-finish"); err != nil {
		return nil, err
	}

	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	if flags.Changed("timeout") {
		cfg.Profile.TaskTimeout = timeout
	}
	if cfg.ToolTimeout, err = flags.GetDuration("tool-timeout"); err != nil {
		return nil, err
	}

	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}

	cfg.Verbose = getBoolFlag(cmd, "verbose")

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	settings, err := loadSettings(cfg.ConfigFilePath)
	if err != nil {
		return nil, err
	}
	cfg.Settings = settings
	if settings.UserAgent != "" {
		cfg.UserAgent = settings.UserAgent
	}

	return cfg, nil
}

// loadSettings reads the settings file.
// If the user explicitly specified a path, a missing file is an error.
// Otherwise a missing file means default settings.
func loadSettings(explicitPath string) (*config.Settings, error) {
	path := config.FindConfigFile(explicitPath)
	switch {
	case path != "":
		settings, err := config.LoadSettingsFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", path, err)
		}
		settings.ApplyEnv()
		return settings, nil
	case explicitPath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, explicitPath)
	default:
		settings := config.NewSettings()
		settings.ApplyEnv()
		return settings, nil
	}
}

// scanner carries the terminal and logging collaborators of one scan.
type scanner struct {
	out    io.Writer
	in     io.Reader
	logger *slog.Logger

	// interactive is true when the retain-or-purge question can be asked.
	interactive bool

	// newRegistry builds the phase list. Tests replace it with fakes.
	newRegistry func(*phase.Deps) (*pipeline.Registry, error)
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	doneColor   = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed, color.Bold)
	warnColor   = color.New(color.FgYellow, color.Bold)
)

// run executes the pipeline, writes the reports, and applies the
// retain-or-purge policy. The reports are written even when the pipeline
// failed or was interrupted; the returned error is the pipeline's.
func (s *scanner) run(ctx context.Context, cfg *config.Config) error {
	headerColor.Fprintf(s.out, "TARGET: %s  MODE: %s\n\n", cfg.Target, strings.ToUpper(cfg.Mode.String())) //nolint:errcheck // terminal output

	proxyAddr, stopEgress, err := s.setupEgress(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopEgress()

	client, err := transport.New(transport.FromConfig(cfg, proxyAddr)...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	sess, err := session.Open(ctx, session.Options{
		Dir:    cfg.DataDir,
		Domain: cfg.Target,
		Mode:   cfg.Mode,
		Resume: cfg.Resume,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	purged := false
	defer func() {
		if purged {
			return
		}
		if err := sess.Close(); err != nil {
			s.logger.Error("failed to close session", "domain", cfg.Target, "error", err)
		}
	}()

	// Bookkeeping and reporting must still happen after an interrupt.
	storeCtx := context.WithoutCancel(ctx)

	reg, err := s.newRegistry(phase.NewDeps(cfg, client, s.logger, s.out))
	if err != nil {
		return err
	}

	if err := sess.StartRun(storeCtx); err != nil {
		s.logger.Warn("failed to record run start", "error", err)
	}

	driver := pipeline.NewDriver(
		pipeline.WithLogger(s.logger),
		pipeline.WithObserver(s.observer(reg.Len())),
	)
	runErr := driver.Run(ctx, sess, reg, cfg)

	if err := sess.FinishRun(storeCtx, runStatus(runErr)); err != nil {
		s.logger.Warn("failed to record run status", "error", err)
	}

	if err := s.writeReports(storeCtx, cfg, sess); err != nil {
		return errors.Join(runErr, err)
	}

	if runErr != nil {
		if pipeline.IsInterrupted(runErr) {
			warnColor.Fprintf(s.out, "\nScan interrupted. Continue with: arbiter scan %s --mode %s --resume\n", cfg.Target, cfg.Mode) //nolint:errcheck // terminal output
		}
		return runErr
	}

	doneColor.Fprintln(s.out, ">> EVALUATION COMPLETE.") //nolint:errcheck // terminal output

	purged, err = s.finish(storeCtx, cfg, sess)
	return err
}

// setupEgress prepares the proxy all HTTP traffic goes through.
// It returns the SOCKS5 address to use (empty for direct connections)
// and a function releasing what was started.
func (s *scanner) setupEgress(ctx context.Context, cfg *config.Config) (string, func(), error) {
	switch {
	case cfg.UseTor:
		fmt.Fprintln(s.out, "Starting embedded Tor daemon...")
		fmt.Fprintf(s.out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

		embedded := tor.NewEmbeddedTor(
			tor.WithStartupTimeout(cfg.TorStartupTimeout),
			tor.WithLogger(s.logger),
		)
		if err := embedded.Start(ctx); err != nil {
			return "", nil, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		stop := func() {
			s.logger.Info("stopping embedded Tor daemon")
			if err := embedded.Stop(); err != nil {
				s.logger.Error("failed to stop embedded Tor", "error", err)
			}
		}
		if err := embedded.Check(ctx); err != nil {
			stop()
			return "", nil, fmt.Errorf("embedded Tor proxy check failed: %w", err)
		}
		fmt.Fprintf(s.out, "SOCKS proxy: %s\n\n", embedded.SocksAddr())
		return embedded.SocksAddr(), stop, nil

	case cfg.ProxyAddress != "":
		if status := tor.CheckProxy(ctx, cfg.ProxyAddress); status != tor.ProxyStatusOK {
			return "", nil, fmt.Errorf("proxy check failed: %w (make sure a SOCKS5 proxy is running at %s)",
				status.Error(), cfg.ProxyAddress)
		}
		s.logger.Info("SOCKS5 proxy verified", "address", cfg.ProxyAddress)
		return cfg.ProxyAddress, func() {}, nil

	default:
		return "", func() {}, nil
	}
}

// observer prints one line per finished, failed, or skipped phase.
func (s *scanner) observer(total int) pipeline.Observer {
	n := 0
	return func(e pipeline.Event) {
		switch e.State {
		case pipeline.StateSkipped:
			n++
			fmt.Fprintf(s.out, "[%d/%d] %s: completed in a previous run\n", n, total, e.Phase)
		case pipeline.StateCompleted:
			n++
			doneColor.Fprintf(s.out, "[%d/%d] %s: done in %s\n\n", n, total, e.Phase, e.Elapsed.Round(time.Millisecond)) //nolint:errcheck // terminal output
		case pipeline.StateFailed:
			failColor.Fprintf(s.out, "[%d/%d] %s: FAILED: %v\n", n+1, total, e.Phase, e.Err) //nolint:errcheck // terminal output
		case pipeline.StatePending:
			warnColor.Fprintf(s.out, "[%d/%d] %s: interrupted\n", n+1, total, e.Phase) //nolint:errcheck // terminal output
		}
	}
}

// writeReports renders the session into every configured format and
// prints the terminal summary.
func (s *scanner) writeReports(ctx context.Context, cfg *config.Config, sess *session.Session) error {
	snapshot, err := sess.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	paths, err := report.WriteFiles(cfg.OutputDir, snapshot, cfg.ReportFormats)
	if err != nil {
		return err
	}
	_, err = report.NewSummaryWriter(s.out, report.WithReportFiles(paths...)).Write(snapshot)
	return err
}

// finish applies the retain-or-purge policy and reports whether the
// session was purged.
func (s *scanner) finish(ctx context.Context, cfg *config.Config, sess *session.Session) (bool, error) {
	keep := true
	switch cfg.OnFinish {
	case config.OnFinishPurge:
		keep = false
	case config.OnFinishAsk:
		if s.interactive {
			keep = confirm(s.in, s.out, "Do you want to SAVE the scan data locally? [Y/n]: ")
		}
	}

	if keep {
		fmt.Fprintf(s.out, "Data preserved in %s and %s\n",
			session.OutputDir(cfg.OutputDir, cfg.Target), cfg.DataDir)
		return false, nil
	}

	failColor.Fprintln(s.out, "! PURGING SCAN DATA...") //nolint:errcheck // terminal output
	if err := sess.Purge(ctx, cfg.OutputDir); err != nil {
		return false, fmt.Errorf("failed to purge scan data: %w", err)
	}
	failColor.Fprintln(s.out, "Trace deleted.") //nolint:errcheck // terminal output
	return true, nil
}

// confirm asks a yes/no question. Anything but an explicit no is yes.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "n", "no":
		return false
	default:
		return true
	}
}

// runStatus maps the pipeline result to the status stored with the run.
func runStatus(err error) string {
	switch {
	case err == nil:
		return model.RunStatusCompleted
	case pipeline.IsInterrupted(err):
		return model.RunStatusInterrupted
	default:
		return model.RunStatusFailed
	}
}
