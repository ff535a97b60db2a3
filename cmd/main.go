package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/oarkflow/edgeguard"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "", "optional JSON config file (hot-reloaded)")
	webhookURL := flag.String("webhook", "", "optional webhook URL for alert delivery")
	auditDSN := flag.String("audit-db", "", "optional SQLite DSN for the audit trail")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := edgeguard.NewConsoleLogger(*debug)

	cfg := edgeguard.DefaultConfig()
	if *configPath != "" {
		loaded, err := edgeguard.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}

	notifiers := edgeguard.MultiNotifier{&edgeguard.LogNotifier{Logger: logger}}
	if *webhookURL != "" {
		notifiers = append(notifiers, edgeguard.NewWebhookNotifier(*webhookURL, logger))
	}
	var sink *edgeguard.SQLiteAuditSink
	if *auditDSN != "" {
		s, err := edgeguard.NewSQLiteAuditSink(*auditDSN, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open audit db")
		}
		sink = s
		notifiers = append(notifiers, sink)
	}

	metrics := edgeguard.NewInMemoryMetricsCollector()
	controller, err := edgeguard.NewSecurityController(cfg,
		edgeguard.WithNotifier(notifiers),
		edgeguard.WithMetrics(metrics),
		edgeguard.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize security controller")
	}
	if *configPath != "" {
		if err := controller.WatchConfig(*configPath); err != nil {
			logger.Warn().Err(err).Msg("config watch unavailable")
		}
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	for _, mw := range controller.Middlewares() {
		app.Use(mw)
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	app.Get("/dashboard", func(c *fiber.Ctx) error {
		return c.JSON(controller.Dashboard())
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(metrics.ExportPrometheus())
	})
	app.Post("/admin/ban/:ip", func(c *fiber.Ctx) error {
		ip := c.Params("ip")
		controller.BanIP(ip, "manual ban via admin API", 0)
		return c.JSON(fiber.Map{"banned": ip})
	})
	app.Post("/admin/unban/:ip", func(c *fiber.Ctx) error {
		ip := c.Params("ip")
		return c.JSON(fiber.Map{"ip": ip, "removed": controller.UnbanIP(ip)})
	})

	go func() {
		logger.Info().Str("addr", *addr).Msg("edgeguard demo server starting")
		if err := app.Listen(*addr); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}
	controller.Shutdown()
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("audit sink close")
		}
	}
}
