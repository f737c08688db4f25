// Package main runs a demonstration Sockress server: a small JSON API
// reachable over both transports, with Prometheus metrics on a side
// listener. It doubles as a reference for embedding the framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/alsocoders/sockress/config"
	"github.com/alsocoders/sockress/middleware"
	"github.com/alsocoders/sockress/router"
	"github.com/alsocoders/sockress/server"
)

const (
	Version = "0.1.0"
	appName = "sockressd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr        = flag.String("addr", ":8080", "listen address")
		socketPath  = flag.String("socket-path", "/sockress", "socket upgrade path")
		metricsAddr = flag.String("metrics-addr", ":9100", "metrics listen address, empty to disable")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "json", "log format (json, text)")
		production  = flag.Bool("production", false, "suppress upgrade-rejection diagnostics")
	)
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	cfg := config.ServerConfig{
		Addr:       *addr,
		Production: *production,
		Socket:     config.SocketConfig{Path: *socketPath},
	}

	srv, err := server.New(cfg, buildRouter(logger),
		server.WithLogger(logger))
	if err != nil {
		return err
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, srv, logger)
	}

	done := make(chan struct{})
	srv.OnShutdown(func() {
		logger.Info("shutdown complete")
		close(done)
	})

	if err := srv.Start(context.Background()); err != nil {
		return err
	}
	srv.EnableSignalShutdown(10 * time.Second)

	<-done
	return nil
}

func buildRouter(logger *slog.Logger) *router.Router {
	r := router.New()
	r.Use("/", middleware.Logger(logger))
	r.Use("/", middleware.RateLimit(rate.Limit(100), 200))

	// An error handler only sees errors raised by layers registered before
	// it, so the guard and its handler travel as a pair.
	r.Use("/echo", func(c *router.Ctx) error {
		if c.Param("word") == "teapot" {
			return fmt.Errorf("refusing to echo %q", c.Param("word"))
		}
		return nil
	})
	r.UseError("/echo", func(c *router.Ctx, err error) error {
		c.Logger().Warn("echo rejected", slog.String("error", err.Error()))
		c.Halt()
		return c.Response.Status(http.StatusTeapot).JSON(router.ErrorBody{
			Error:  err.Error(),
			Status: http.StatusTeapot,
		})
	})

	r.Get("/healthz", func(c *router.Ctx) error {
		return c.JSON(map[string]string{"status": "ok", "version": Version})
	})

	r.Get("/echo/:word", func(c *router.Ctx) error {
		return c.JSON(map[string]any{
			"word":      c.Param("word"),
			"transport": string(c.Request.Transport),
		})
	})

	r.Post("/upload", func(c *router.Ctx) error {
		form := c.Request.Form
		if form == nil || form.PrimaryFile() == nil {
			return c.Response.Status(400).JSON(router.ErrorBody{Error: "no file submitted", Status: 400})
		}
		f := form.PrimaryFile()
		return c.JSON(map[string]any{"name": f.Name, "size": f.Size})
	})

	return r
}

func serveMetrics(addr string, srv *server.Server, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", srv.Metrics().Handler())

	logger.Info("metrics listening", slog.String("addr", addr))
	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", slog.String("error", err.Error()))
	}
}
