package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/alex/dlnacast/internal/adapters/dlna"
	"github.com/alex/dlnacast/internal/beam"
	"github.com/alex/dlnacast/internal/buildinfo"
	"github.com/alex/dlnacast/internal/config"
	"github.com/alex/dlnacast/internal/console"
	"github.com/alex/dlnacast/internal/control"
	"github.com/alex/dlnacast/internal/diagnostics"
	"github.com/alex/dlnacast/internal/discovery"
	"github.com/alex/dlnacast/internal/domain"
	"github.com/alex/dlnacast/internal/lifecycle"
	"github.com/alex/dlnacast/internal/media"
	"github.com/alex/dlnacast/internal/mediaserver"
	"github.com/alex/dlnacast/internal/netutil"
)

var errNoDevices = errors.New("no devices found")

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	DLNAAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		ControlWired   bool `json:"control_wired"`
	} `json:"dlna_adapters"`
	Environment diagnostics.EnvironmentReport `json:"environment"`
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fs := flag.NewFlagSet("dlnacast", flag.ExitOnError)
	cfg.RegisterFlags(fs)
	showVersion := fs.Bool("version", false, "print version and exit")
	selfTest := fs.Bool("self-test", false, "run network and wiring diagnostics then exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: dlnacast [flags] <file or URL>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return 0
	}
	if *selfTest {
		return runSelfTest(cfg)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := newLogger(cfg.LogLevel)
	if cfg.Path != "" {
		logger.Debug().Str("path", cfg.Path).Msg("config_loaded")
	}
	printer := console.NewPrinter(os.Stdout)

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	resolver := media.NewResolver(logger)
	source := fs.Arg(0)
	if cfg.DowngradeHTTPS && strings.HasPrefix(strings.ToLower(source), "https://") {
		source = "http://" + source[len("https://"):]
	}
	video, err := resolver.Resolve(runCtx, source)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			printer.Errorf("File not found")
		} else {
			printer.Errorf("%v", err)
		}
		logger.Debug().Err(err).Msg("resolve_failed")
		return 1
	}

	var subtitles *domain.Content
	if cfg.Subtitles != "" {
		subs, err := resolver.Resolve(runCtx, cfg.Subtitles)
		if err != nil {
			printer.Errorf("Subtitles not found: %s", cfg.Subtitles)
			logger.Warn().Err(err).Msg("subtitles_skipped")
		} else {
			subtitles = &subs
		}
	}

	server := mediaserver.New(video, mediaserver.Options{
		Port:          cfg.Port,
		Subtitles:     subtitles,
		EnableMetrics: cfg.Metrics,
		Logger:        logger,
	})
	if err := server.Start(); err != nil {
		printer.Errorf("%v", err)
		return 1
	}

	host, err := netutil.OutboundIP()
	if err != nil {
		logger.Warn().Err(err).Msg("outbound_ip_unknown")
		host = "127.0.0.1"
	}
	printer.Printf("Server started at %s", printer.Blue(server.MediaURL(host)))

	if !cfg.Cast {
		<-runCtx.Done()
		return shutdownServer(server, logger)
	}

	bundle := dlna.NewBundle(logger)
	registry := discovery.NewRegistry(bundle.Prober, discovery.Options{
		SettleWindow: cfg.SettleWindow,
		Logger:       logger,
	})
	defer registry.Close()

	device, err := selectDevice(runCtx, cfg, registry, printer)
	if err != nil {
		code := 0
		switch {
		case errors.Is(err, errNoDevices):
			printer.Errorf("Couldn't find any devices")
		case errors.Is(err, console.ErrInterrupted):
			printer.Errorf("Interrupted")
		case runCtx.Err() != nil:
		default:
			printer.Errorf("%v", err)
			code = 1
		}
		shutdownServer(server, logger)
		return code
	}
	registry.Close()

	if deviceHost, err := dlna.ListenHost(device.Location); err == nil {
		host = deviceHost
	} else {
		logger.Debug().Err(err).Msg("listen_host_fallback")
	}

	session := beam.Session{
		DeviceName: device.Name,
		MediaURL:   server.MediaURL(host),
		VideoLabel: video.Path,
		Load: control.LoadOptions{
			ContentType: video.MIME,
			Title:       video.Title(),
			Kind:        video.Kind(),
			IsLocal:     video.IsLocal,
		},
		PollInterval: cfg.PollInterval,
		PollDelay:    cfg.PollDelay,
		SeekStep:     cfg.SeekStep,
	}
	if subtitles != nil {
		session.SubtitleLabel = subtitles.Path
		session.Load.SubtitleURL = server.SubtitleURL(host)
	}

	client := control.NewClient(device, bundle.Dialer, logger)
	defer client.Close()

	var keys beam.KeyInput
	if ks, err := console.OpenKeys(os.Stdin); err != nil {
		logger.Warn().Err(err).Msg("keyboard_unavailable")
	} else {
		keys = ks
	}

	ctrl := beam.NewController(client, server, keys, printer, session, logger)
	if err := ctrl.Run(runCtx); err != nil {
		return 1
	}
	return 0
}

func runSelfTest(cfg config.Config) int {
	bundle := dlna.NewBundle(zerolog.Nop())
	out := selfTestOutput{
		Environment: diagnostics.DetectEnvironment(cfg.Port, cfg.Path),
	}
	out.Server.Name = "dlnacast"
	out.Server.Version = buildinfo.Version
	out.DLNAAdapters.DiscoveryWired = bundle.Prober != nil
	out.DLNAAdapters.ControlWired = bundle.Dialer != nil

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !out.Environment.Ready {
		return 1
	}
	return 0
}

func selectDevice(ctx context.Context, cfg config.Config, registry *discovery.Registry, printer *console.Printer) (domain.Device, error) {
	printer.Println("Searching for devices...")

	if cfg.List {
		devices, err := registry.SearchPlayers(ctx)
		if err != nil {
			return domain.Device{}, err
		}
		if len(devices) == 0 {
			return domain.Device{}, errNoDevices
		}
		return chooseDevice(ctx, printer, devices)
	}

	registry.Start(ctx)
	return registry.Wait(ctx, cfg.Device)
}

// chooseDevice prompts on stdin without outliving ctx. The prompt goroutine
// stays blocked on stdin when ctx ends first.
func chooseDevice(ctx context.Context, printer *console.Printer, devices []domain.Device) (domain.Device, error) {
	type choice struct {
		device domain.Device
		err    error
	}
	result := make(chan choice, 1)
	go func() {
		d, err := console.Choose(os.Stdin, printer, devices)
		result <- choice{device: d, err: err}
	}()

	select {
	case c := <-result:
		return c.device, c.err
	case <-ctx.Done():
		return domain.Device{}, ctx.Err()
	}
}

func shutdownServer(server *mediaserver.Server, logger zerolog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("media_server_shutdown_failed")
		return 1
	}
	return 0
}

func newLogger(level string) zerolog.Logger {
	out := colorable.NewColorableStderr()
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		TimeFormat: time.TimeOnly,
	}
	return zerolog.New(writer).Level(parseLogLevel(level)).With().Timestamp().Logger()
}

func parseLogLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "warn", "warning":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		fmt.Fprintf(os.Stderr, "invalid log level %q; defaulting to warn\n", raw)
		return zerolog.WarnLevel
	}
}
