// Command imgscout finds every image a web page references.
//
// Usage:
//
//	imgscout -url https://example.com            # scan once, print events
//	imgscout -url https://example.com -watch     # keep watching the page
//	imgscout -config imgscout.yaml               # pages, sinks and relay from YAML
//	imgscout -config imgscout.yaml -mcp          # serve the MCP tools on stdio
//	imgscout -relay :8087                        # run only the download relay
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/imgscout/relay"
	"github.com/hazyhaar/imgscout/scout"
	"github.com/hazyhaar/imgscout/sink"
)

const version = "0.1.0"

type options struct {
	config   string
	url      string
	level    string
	watch    bool
	download string
	relay    string
	mcp      bool
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to imgscout.yaml config file")
	flag.StringVar(&o.url, "url", "", "scan a single URL (stdout sink)")
	flag.StringVar(&o.level, "level", "auto", "stealth level for -url: 0, 1, 2 or auto")
	flag.BoolVar(&o.watch, "watch", false, "keep watching the -url page for changes")
	flag.StringVar(&o.download, "download", "", "save every discovered image into this directory")
	flag.StringVar(&o.relay, "relay", "", "run only the download relay on this address")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("imgscout: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.relay != "" {
		return relay.NewServer(relay.Config{Logger: logger}).ListenAndServe(ctx, o.relay)
	}

	cfg := scout.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = scout.LoadConfigFile(o.config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else if o.url == "" && !o.mcp {
		fmt.Fprintln(os.Stderr, "usage: imgscout -url <url> | -config <file> | -mcp | -relay <addr>")
		os.Exit(2)
	}
	if o.download != "" {
		cfg.DownloadDir = o.download
	}

	var opts []scout.Option
	if len(cfg.Sinks) == 0 && !o.mcp {
		opts = append(opts, scout.WithSink(sink.NewAsync(sink.NewStdout(nil), 0, logger)))
	}
	sc, err := scout.New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer sc.Close()

	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if o.url != "" {
		if _, err := sc.Open(ctx, scout.PageConfig{URL: o.url, StealthLevel: o.level, Watch: o.watch}); err != nil {
			return fmt.Errorf("open %s: %w", o.url, err)
		}
		if !o.watch && !o.mcp && len(cfg.Pages) == 0 {
			return nil
		}
	}

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "imgscout", Version: version}, nil)
		sc.RegisterMCP(srv)
		logger.Info("imgscout: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	<-ctx.Done()
	return nil
}
