package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/always-cache/cproxy/core"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag string
	rootFlag           string
	dbFilenameFlag     string
	openFlag           bool
	viewerFlag         string
	listenFlag         string
	listFlag           bool
	evictFlag          bool
	connectTimeoutFlag time.Duration
	readTimeoutFlag    time.Duration
	maxBytesFlag       int64
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

var errUsage = errors.New("invalid usage")

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&rootFlag, "root", ".", "Root directory of the cache tree")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Index DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&openFlag, "s", false, "Open the obtained file in the viewer")
	flag.StringVar(&viewerFlag, "viewer", "xdg-open", "Program used to open files")
	flag.StringVar(&listenFlag, "listen", "", "Serve the cache over HTTP on this address instead of fetching a single URL")
	flag.BoolVar(&listFlag, "list", false, "List indexed artifacts, optionally filtered by a URL prefix argument")
	flag.BoolVar(&evictFlag, "evict", false, "Remove the cached file for the URL argument")
	flag.DurationVar(&connectTimeoutFlag, "connect-timeout", core.DefaultConnectTimeout, "Timeout for connecting to the origin")
	flag.DurationVar(&readTimeoutFlag, "read-timeout", core.DefaultReadTimeout, "Timeout for each read from the origin")
	flag.Int64Var(&maxBytesFlag, "max-bytes", core.DefaultMaxBytes, "Maximum response size in bytes")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")

	if version == "" {
		version = "DEV"
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <URL>\n", os.Args[0])
	fmt.Fprintf(out, "       %s -list [prefix]\n", os.Args[0])
	fmt.Fprintf(out, "       %s -evict <URL>\n", os.Args[0])
	fmt.Fprintf(out, "       %s -listen <addr>\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	config, err := loadConfig()
	setupLogging(config.LogFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", configFilenameFlag).Msg("Could not read config")
	}

	if err := run(config); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("Could not obtain resource")
	}
}

// loadConfig reads the config file, if any, and applies explicitly set flags on top.
func loadConfig() (Config, error) {
	config := Config{
		Root:           rootFlag,
		DB:             dbFilenameFlag,
		ConnectTimeout: connectTimeoutFlag,
		ReadTimeout:    readTimeoutFlag,
		MaxBytes:       maxBytesFlag,
		Open:           openFlag,
		Viewer:         viewerFlag,
		Listen:         listenFlag,
		LogFile:        logFilenameFlag,
	}
	if configFilenameFlag == "" {
		return config, nil
	}
	fileConfig, err := getConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	// keep defaults for values missing from the file
	if fileConfig.Root == "" {
		fileConfig.Root = config.Root
	}
	if fileConfig.DB == "" {
		fileConfig.DB = config.DB
	}
	if fileConfig.Viewer == "" {
		fileConfig.Viewer = config.Viewer
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			fileConfig.Root = rootFlag
		case "db":
			fileConfig.DB = dbFilenameFlag
		case "connect-timeout":
			fileConfig.ConnectTimeout = connectTimeoutFlag
		case "read-timeout":
			fileConfig.ReadTimeout = readTimeoutFlag
		case "max-bytes":
			fileConfig.MaxBytes = maxBytesFlag
		case "s":
			fileConfig.Open = openFlag
		case "viewer":
			fileConfig.Viewer = viewerFlag
		case "listen":
			fileConfig.Listen = listenFlag
		case "log-file":
			fileConfig.LogFile = logFilenameFlag
		}
	})
	return fileConfig, nil
}

// setupLogging logs to stderr, since stdout carries the response,
// and also to the log file if specified.
func setupLogging(logFilename string) {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stderr})
	if logFilename != "" {
		if logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}

func run(config Config) error {
	index, err := core.NewSQLiteIndex(config.DB)
	if err != nil {
		return fmt.Errorf("opening index %s: %w", config.DB, err)
	}

	cproxyConfig := core.Config{
		Root:  config.Root,
		Index: index,
		Fetcher: core.FetcherConfig{
			ConnectTimeout: config.ConnectTimeout,
			ReadTimeout:    config.ReadTimeout,
			MaxBytes:       config.MaxBytes,
		},
	}
	if config.Open {
		cproxyConfig.Viewer = core.CommandViewer{Command: config.Viewer}
	}
	cproxy := core.CreateProxy(cproxyConfig)
	defer cproxy.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case config.Listen != "":
		return serve(ctx, cproxy, config.Listen)
	case listFlag:
		return list(cproxy, flag.Arg(0))
	case evictFlag:
		if flag.NArg() != 1 {
			return errUsage
		}
		return cproxy.Evict(flag.Arg(0))
	}

	if flag.NArg() != 1 {
		return errUsage
	}
	a, err := cproxy.Serve(ctx, os.Stdout, flag.Arg(0))
	if err != nil {
		return err
	}
	if a.Hit {
		log.Info().Str("path", a.Path).Msg("File is given from the local filesystem")
	}
	// a viewer failure is logged by the proxy and does not fail the command
	cproxy.View(a)
	return nil
}

func serve(ctx context.Context, cproxy *core.CProxy, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           cproxy.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("Serving cache")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func list(cproxy *core.CProxy, prefix string) error {
	entries, err := cproxy.Entries(prefix)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tSIZE\tFETCHED\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Key, e.Size, e.FetchedAt.Format(time.RFC3339), e.Path)
	}
	return w.Flush()
}
