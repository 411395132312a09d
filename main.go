package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bankroll-service/internal/archive"
	"bankroll-service/internal/config"
	"bankroll-service/internal/sheets"
	"bankroll-service/internal/store"
	"bankroll-service/internal/sync"
	transport "bankroll-service/internal/transport/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var startTime time.Time

func main() {
	startTime = time.Now()
	cfg := config.Load()
	store.InitDB(cfg)

	ctx := context.Background()

	sheetsClient, err := sheets.NewClient(ctx, sheets.Config{
		SpreadsheetID:   cfg.SpreadsheetID,
		CredentialsJSON: []byte(cfg.GoogleCredentialsJSON),
		APIKey:          cfg.GoogleAPIKey,
	})
	if err != nil {
		log.Fatalf("❌ [SHEETS] Failed to initialize client: %v", err)
	}
	log.Printf("✅ [SHEETS] Client initialized (spreadsheet: %s, writable: %v)", cfg.SpreadsheetID, sheetsClient.CanWrite())

	dest := store.NewStore(store.GetDB())

	mappingStore, err := sync.NewMappingStore(ctx, dest)
	if err != nil {
		log.Fatalf("❌ [MAPPINGS] Failed to load: %v", err)
	}

	// Snapshot archive is optional: without R2 credentials, applies simply
	// skip the pre-apply backup.
	var archiver sync.Archiver
	if cfg.R2AccountID != "" {
		r2Client, err := archive.NewR2Client(archive.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			log.Fatalf("❌ [R2] Failed to initialize client: %v", err)
		}
		archiver = r2Client
		log.Println("✅ [R2] Snapshot archive client initialized")
	} else {
		log.Println("⚠️ [R2] Snapshot archive disabled (no R2_ACCOUNT_ID)")
	}

	orchestrator := sync.NewOrchestrator(sheetsClient, dest, mappingStore, archiver)
	handler := transport.NewHandler(orchestrator, mappingStore, sheetsClient)
	log.Println("✅ [SERVICE] Sync orchestrator & handler initialized")

	app := fiber.New(fiber.Config{
		AppName:      "bankroll-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Service-Token,Cache-Control",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
	}))

	// Sync API (secured with the shared service token)
	api := app.Group("/v1", serviceAuth(cfg))
	api.Get("/sheets", handler.ListSheets)
	api.Get("/mappings", handler.GetMappings)
	api.Put("/mappings", handler.UpsertMapping)
	api.Delete("/mappings/:sheet", handler.DeleteMapping)
	api.Post("/sync/all", handler.SyncAll)
	api.Post("/sync/confirm", handler.ConfirmSync)
	api.Post("/sync/cancel", handler.CancelSync)
	api.Post("/sync/:sheet/preview", handler.PreviewSync)
	api.Post("/sync/:sheet/write", handler.WriteSync)
	api.Post("/autosync/start", handler.StartAutoSync)
	api.Post("/autosync/stop", handler.StopAutoSync)
	api.Get("/status", handler.GetStatus)
	log.Println("✅ [ROUTES] Registered sync routes: /v1/*")

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		uptime := time.Since(startTime).Round(time.Second)
		status := orchestrator.Status()
		return c.JSON(fiber.Map{
			"status":       "ok",
			"service":      "bankroll-service",
			"uptime":       uptime.String(),
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"spreadsheet":  cfg.SpreadsheetID,
			"writable":     sheetsClient.CanWrite(),
			"sync_running": status.IsRunning,
		})
	})
	log.Println("✅ [ROUTES] Registered /health")

	if cfg.AutoSyncIntervalSec > 0 {
		orchestrator.StartAutoSync(time.Duration(cfg.AutoSyncIntervalSec) * time.Second)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		orchestrator.Close()
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
	}()

	log.Printf("🚀 bankroll-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   📊 Spreadsheet: %s", cfg.SpreadsheetID)
	log.Printf("   🔄 Auto-sync interval: %ds", cfg.AutoSyncIntervalSec)
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      "something went wrong",
		"request_id": c.Get("X-Request-ID"),
	})
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		return c.Next()
	}
}
