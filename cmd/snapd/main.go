// CLAUDE:SUMMARY Entry point for snapd: HTTP server (snap, export_svg, optional MCP over HTTP or QUIC) and the hidden "worker" subcommand run once per capture.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/snapd/capture"
	"github.com/hazyhaar/snapd/config"
	"github.com/hazyhaar/snapd/export"
	"github.com/hazyhaar/snapd/gateway"
	"github.com/hazyhaar/snapd/isolate"
	"github.com/hazyhaar/snapd/mcpquic"
	"github.com/hazyhaar/snapd/observability"
)

var version = "dev"

const configEnv = "SNAPD_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "snapd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "snapd",
		Short:         "Web page snapshots and SVG exports over HTTP and MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(configEnv),
		"YAML configuration file (env "+configEnv+")")

	root.AddCommand(&cobra.Command{
		Use:    "worker",
		Short:  "Capture one page (spawned by the server, one process per request)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), configPath)
		},
	})
	return root
}

// runWorker captures exactly one page. The envelope arrives on stdin and the
// result leaves on the inherited descriptor; logs go to stderr, which the
// parent forwards.
func runWorker(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With("role", "worker")

	out, err := isolate.OpenResultChannel()
	if err != nil {
		return err
	}

	browserCfg := cfg.Capture.Browser
	browserCfg.Logger = logger
	task := func(ctx context.Context, env isolate.Envelope) (string, error) {
		bc := browserCfg
		bc.WorkDir = env.WorkDir
		eng := capture.New(capture.Config{
			Driver:       capture.NewRodDriver(bc),
			ReadyTimeout: env.ReadyTimeout,
			Logger:       logger,
		})
		return eng.Run(ctx, env.Request, env.WorkDir)
	}
	return isolate.ServeWorker(ctx, os.Stdin, out, task, logger)
}

func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Workers re-load the same file.
	var workerEnv []string
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		workerEnv = append(workerEnv, configEnv+"="+abs)
	}
	runner, err := isolate.NewRunner(isolate.Config{
		Env:          workerEnv,
		TempDir:      cfg.Capture.TempDir,
		ReadyTimeout: cfg.Capture.ReadyTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	conv := export.New(export.Config{
		Rasterizer:   cfg.Export.Rasterizer,
		Timeout:      cfg.Export.Timeout,
		TempDir:      cfg.Export.TempDir,
		MaxSVGBytes:  cfg.Export.MaxSVGBytes,
		VerifyPDF:    cfg.Export.VerifyPDF,
		VerifyImages: cfg.Export.VerifyImages,
		Logger:       logger,
	})

	// Optional outcome journal.
	var journal *observability.Journal
	if cfg.Journal.Path != "" {
		journal, err = observability.OpenJournal(cfg.Journal.Path, observability.JournalConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		if n, err := journal.Cleanup(ctx, cfg.Journal.RetentionDays); err != nil {
			logger.Warn("journal cleanup", "error", err)
		} else if n > 0 {
			logger.Info("journal cleanup", "deleted", n)
		}
	}

	gwCfg := gateway.Config{
		Snapper:        runner,
		Exporter:       conv,
		Journal:        journal,
		Deadline:       cfg.Capture.Deadline,
		DefaultWidth:   cfg.Capture.Width,
		DefaultHeight:  cfg.Capture.Height,
		BlockPrivate:   *cfg.Capture.BlockPrivate,
		MaxBody:        int64(cfg.Export.MaxSVGBytes) + 64<<10,
		RateLimits:     cfg.Server.RateLimits,
		TrustedProxies: cfg.Server.ProxyNets(),
		Done:           ctx.Done(),
		Logger:         logger,
	}

	// Optional MCP: streamable HTTP mounted at /mcp, or a QUIC listener.
	var mcpSrv *mcp.Server
	if cfg.MCP.Transport != "" {
		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "snapd", Version: version}, nil)
	}
	if cfg.MCP.Transport == "http" {
		gwCfg.MCPHandler = gateway.NewMCPHandler(mcpSrv)
	}
	gw := gateway.New(gwCfg)
	if mcpSrv != nil {
		gw.RegisterMCP(mcpSrv)
		logger.Info("mcp enabled", "transport", cfg.MCP.Transport)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Server.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	var ql *mcpquic.Listener
	if cfg.MCP.Transport == "quic" {
		tlsCfg, err := quicTLS(cfg.MCP, logger)
		if err != nil {
			return fmt.Errorf("mcp quic: %w", err)
		}
		ql, err = mcpquic.NewListener(cfg.MCP.QUICAddr, tlsCfg, mcpSrv, logger)
		if err != nil {
			return fmt.Errorf("mcp quic: %w", err)
		}
		g.Go(func() error {
			if err := ql.Serve(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp quic: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if ql != nil {
			ql.Close()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func quicTLS(cfg config.MCPConfig, logger *slog.Logger) (*tls.Config, error) {
	if cfg.TLSCert != "" {
		return mcpquic.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey)
	}
	logger.Warn("mcp quic: no certificate configured, using a self-signed one")
	return mcpquic.SelfSignedTLSConfig()
}
