package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tobert/otlp-timeline/internal/mcpserver"
	"github.com/tobert/otlp-timeline/internal/otlpreceiver"
	"github.com/tobert/otlp-timeline/internal/storage"
	"github.com/tobert/otlp-timeline/internal/timeline"
	"github.com/tobert/otlp-timeline/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command starts the OTLP gRPC receiver, the web UI and, optionally,
// the MCP stdio server, all sharing one trace store.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the OTLP receiver and timeline viewer",
		Description: `Starts an OTLP gRPC receiver (localhost, ephemeral port by default) and
the interactive timeline web UI. Trace files in --watch directories, or in
the file exporter directories of --otel-config collector configs, are
loaded and followed. With --mcp the timeline tools are also served on stdio.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file (default: .otlp-timeline.json in the project, then ~/.config/otlp-timeline/config.json)",
			},
			&cli.IntFlag{
				Name:  "trace-capacity",
				Usage: "Number of traces to keep",
				Value: 500,
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP server bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP server port (0 for ephemeral)",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "webui-host",
				Usage: "Web UI bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "webui-port",
				Usage: "Web UI port (-1 disables the UI)",
				Value: 4390,
			},
			&cli.BoolFlag{
				Name:  "mcp",
				Usage: "Also serve MCP tools on stdio",
			},
			&cli.StringSliceFlag{
				Name:  "watch",
				Usage: "Directory of trace files to load and follow (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "otel-config",
				Usage: "OpenTelemetry Collector config whose file exporter directories are watched (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "active-only",
				Usage: "Only follow traces.jsonl, skipping rotated archives",
			},
			&cli.IntFlag{
				Name:  "minimap-width",
				Usage: "Minimap width in pixels",
				Value: 800,
			},
			&cli.IntFlag{
				Name:  "minimap-height",
				Usage: "Minimap height in pixels",
				Value: 60,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// serveConfig layers explicitly set flags over the effective config files.
func serveConfig(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	flags := &Config{
		WatchDirs:   cmd.StringSlice("watch"),
		OtelConfigs: cmd.StringSlice("otel-config"),
		MCP:         cmd.Bool("mcp"),
		ActiveOnly:  cmd.Bool("active-only"),
		Verbose:     cmd.Bool("verbose"),
	}
	if cmd.IsSet("trace-capacity") {
		flags.TraceCapacity = cmd.Int("trace-capacity")
	}
	if cmd.IsSet("otlp-host") {
		flags.OTLPHost = cmd.String("otlp-host")
	}
	if cmd.IsSet("otlp-port") {
		flags.OTLPPort = cmd.Int("otlp-port")
	}
	if cmd.IsSet("webui-host") {
		flags.WebUIHost = cmd.String("webui-host")
	}
	if cmd.IsSet("webui-port") {
		flags.WebUIPort = cmd.Int("webui-port")
	}
	if cmd.IsSet("minimap-width") {
		flags.MinimapWidth = cmd.Int("minimap-width")
	}
	if cmd.IsSet("minimap-height") {
		flags.MinimapHeight = cmd.Int("minimap-height")
	}
	return MergeConfigs(cfg, flags), nil
}

// watchDirs returns the configured directories plus those discovered in
// collector configs. Unreadable collector configs are logged and skipped.
func watchDirs(cfg *Config) []string {
	dirs := append([]string(nil), cfg.WatchDirs...)
	for _, path := range cfg.OtelConfigs {
		found, err := ParseOtelConfig(path)
		if err != nil {
			log.Printf("⚠️  Skipping collector config %s: %v\n", path, err)
			continue
		}
		if cfg.Verbose {
			log.Printf("📄 %s: file exporters write to %v\n", path, found)
		}
		dirs = appendUnique(dirs, found...)
	}
	return dirs
}

// runServe is the action handler for the serve command.
// It wires together all components: store, OTLP receiver, file sources,
// web UI and MCP server.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Trace capacity: %d traces\n", cfg.TraceCapacity)
		log.Printf("  OTLP bind: %s:%d\n", cfg.OTLPHost, cfg.OTLPPort)
		log.Printf("  Web UI bind: %s:%d\n", cfg.WebUIHost, cfg.WebUIPort)
		log.Printf("  Minimap: %dx%d\n", cfg.MinimapWidth, cfg.MinimapHeight)
		log.Println()
	}

	ctx, stop := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Trace store shared by every component
	store := storage.NewTraceStore(cfg.TraceCapacity)
	if cfg.Verbose {
		log.Printf("✅ Created trace store (capacity: %d traces)\n", cfg.TraceCapacity)
	}

	// 2. OTLP gRPC receiver
	otlpServer, err := otlpreceiver.NewServer(otlpreceiver.Config{
		Host:    cfg.OTLPHost,
		Port:    cfg.OTLPPort,
		Verbose: cfg.Verbose,
	}, store)
	if err != nil {
		return fmt.Errorf("failed to create OTLP server: %w", err)
	}
	endpoint := otlpServer.Endpoint()
	log.Printf("🌐 OTLP gRPC server listening on %s\n", endpoint)
	if cfg.Verbose {
		log.Printf("   Programs can send traces with: OTEL_EXPORTER_OTLP_ENDPOINT=%s\n", endpoint)
	}

	minimap := timeline.DefaultMinimapConfig()
	minimap.Width, minimap.Height = cfg.MinimapWidth, cfg.MinimapHeight

	// 3. MCP server; it also owns the file sources so agents can list and
	// change them
	mcpServer, err := mcpserver.NewServer(store, endpoint, mcpserver.ServerOptions{
		Verbose: cfg.Verbose,
		Minimap: minimap,
	})
	if err != nil {
		otlpServer.Stop()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpServer.Shutdown()

	for _, dir := range watchDirs(cfg) {
		if err := mcpServer.AddFileSource(ctx, dir, cfg.ActiveOnly); err != nil {
			log.Printf("⚠️  Not watching %s: %v\n", dir, err)
			continue
		}
		log.Printf("📁 Watching %s for trace files\n", dir)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := otlpServer.Start(ctx); err != nil {
			return fmt.Errorf("OTLP server error: %w", err)
		}
		return nil
	})

	// 4. Web UI
	if cfg.WebUIPort >= 0 {
		ui := webui.New(store, webui.Options{Minimap: minimap, Verbose: cfg.Verbose})
		addr := net.JoinHostPort(cfg.WebUIHost, strconv.Itoa(cfg.WebUIPort))
		log.Printf("🖥️  Timeline UI at http://%s/ui/\n", addr)
		g.Go(func() error {
			if err := ui.ListenAndServe(ctx, addr); err != nil {
				return fmt.Errorf("web UI error: %w", err)
			}
			return nil
		})
	}

	// 5. MCP on stdio; closing stdin ends the whole process
	if cfg.MCP {
		log.Println("🎯 MCP server ready on stdio")
		g.Go(func() error {
			defer stop()
			if err := mcpServer.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	}

	<-ctx.Done()
	if cfg.Verbose {
		log.Println("📡 Shutting down...")
	}
	otlpServer.Stop()

	return g.Wait()
}
