package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/goxades/config"
	"github.com/georgepadayatti/goxades/extension"
	"github.com/georgepadayatti/goxades/fetchers"
	"github.com/georgepadayatti/goxades/keys"
	"github.com/georgepadayatti/goxades/logging"
	"github.com/georgepadayatti/goxades/requirements"
	"github.com/georgepadayatti/goxades/revcache"
	"github.com/georgepadayatti/goxades/timestamps"
	"github.com/georgepadayatti/goxades/xades"
)

// ExtendOptions contains options for the extend command.
type ExtendOptions struct {
	ConfigFile string
	Level      string
	Quiet      bool
}

// ExtendCommand implements the 'extend' command.
func ExtendCommand(args []string) {
	extendFlags := flag.NewFlagSet("extend", flag.ExitOnError)

	var opts ExtendOptions

	extendFlags.StringVar(&opts.ConfigFile, "config", "goxades.yaml", "Path to the configuration file")
	extendFlags.StringVar(&opts.Level, "level", "", "Target level: T, C, X, XL or A (default from configuration)")
	extendFlags.BoolVar(&opts.Quiet, "quiet", false, "Do not print the extension report")

	extendFlags.Usage = func() {
		fmt.Printf("Usage: %s extend [options] <input.xml> <output.xml>\n\n", os.Args[0])
		fmt.Println("Extend every XAdES signature of a document to the target level.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.xml   Signed XML document")
		fmt.Println("  output.xml  Output file for the extended document")
		fmt.Println("")
		fmt.Println("Options:")
		extendFlags.PrintDefaults()
	}

	if err := extendFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
		return
	}

	if len(extendFlags.Args()) < 2 {
		extendFlags.Usage()
		osExit(1)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runExtend(ctx, opts, extendFlags.Arg(0), extendFlags.Arg(1), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

func runExtend(ctx context.Context, opts ExtendOptions, inputPath, outputPath string, stdout io.Writer) error {
	cfg, err := config.LoadAppConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Level != "" {
		cfg.Extension.TargetLevel = opts.Level
	}
	target, err := cfg.Extension.Level()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Cache.SweepInterval > 0 {
		go func() {
			if err := engine.Registry().Run(ctx, cfg.Cache.SweepInterval, cfg.Cache.MaxAge); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Evidence cache sweep stopped", slog.String("error", err.Error()))
			}
		}()
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	doc, err := xades.Parse(data)
	if err != nil {
		return err
	}

	result, err := engine.Extend(ctx, doc, target)
	if err != nil {
		return err
	}

	out, err := result.Document.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if !opts.Quiet {
		printReport(stdout, result.Report)
	}
	return nil
}

func printReport(w io.Writer, r *extension.Report) {
	fmt.Fprintf(w, "Target: %s\n", r.Target)
	for _, o := range r.Outcomes {
		fmt.Fprintf(w, "  %s\n", o)
	}
	fmt.Fprintf(w, "Enriched: %d, skipped: %d, inconsistent: %d (%s)\n",
		len(r.Filter(extension.Enriched)),
		len(r.Filter(extension.Skipped)),
		len(r.Filter(extension.Inconsistent)),
		r.Duration.Round(time.Millisecond))
}

// newEngine assembles an extension engine from the configuration.
func newEngine(cfg *config.AppConfig, logger *slog.Logger) (*extension.Engine, error) {
	roots, err := cfg.Extension.LoadTrustRoots()
	if err != nil {
		return nil, err
	}
	digest, err := cfg.Extension.Digest()
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher(cfg.Fetcher, logger)
	if err != nil {
		return nil, err
	}
	timestamper, err := newTimestamper(cfg, logger)
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	return extension.New(extension.Options{
		Fetcher: fetcher,
		Checker: requirements.NewChecker(
			requirements.WithRoots(roots...),
			requirements.WithAllowUntrusted(cfg.Extension.AllowUntrusted),
			requirements.WithLogger(logger),
		),
		Timestamper:     timestamper,
		Registry:        revcache.NewRegistry(clock, logger),
		DigestAlgorithm: digest,
		Logger:          logger,
		Clock:           clock,
	})
}

func newFetcher(cfg *config.FetcherConfig, logger *slog.Logger) (*fetchers.OnlineFetcher, error) {
	client, err := fetchers.NewHTTPClient(&fetchers.HTTPClientConfig{
		Timeout:       cfg.Timeout,
		ProxyURL:      cfg.ProxyURL,
		MinTLSVersion: tls.VersionTLS12,
		DialTimeout:   10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return fetchers.NewOnlineFetcher(&fetchers.Config{
		Timeout:         cfg.Timeout,
		MaxResponseSize: cfg.MaxResponseSize,
		UserAgent:       cfg.UserAgent,
		Retry: &fetchers.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Debug("Retrying evidence retrieval",
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
					slog.String("error", err.Error()))
			},
		},
		HTTPClient: client,
		Logger:     logger,
	}), nil
}

func newTimestamper(cfg *config.AppConfig, logger *slog.Logger) (extension.Timestamper, error) {
	if cfg.LocalTSA != nil {
		cred, err := cfg.LocalTSA.Load()
		if err != nil {
			return nil, err
		}
		policy, err := cfg.LocalTSA.PolicyOID()
		if err != nil {
			return nil, err
		}
		ts := timestamps.NewLocalTimeStamper(cred.Certificate, cred.Signer).WithCertsToEmbed(cred.Chain)
		if policy != nil {
			ts = ts.WithPolicy(policy)
		}
		logger.Info("Using local TSA",
			slog.String("subject", cred.Certificate.Subject.String()),
			slog.String("algorithm", keys.Algorithm(cred.Signer)),
			slog.String("policy", ts.Policy.String()))
		return ts, nil
	}
	client, err := fetchers.NewHTTPClient(&fetchers.HTTPClientConfig{
		Timeout:      cfg.Timestamp.Timeout,
		ProxyURL:     cfg.Fetcher.ProxyURL,
		MaxRedirects: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TSA client: %w", err)
	}
	ts := timestamps.NewHTTPTimestamper(cfg.Timestamp.URL)
	ts.HTTPClient = client
	if cfg.Timestamp.Username != "" {
		ts.SetCredentials(cfg.Timestamp.Username, cfg.Timestamp.Password)
	}
	return ts, nil
}
