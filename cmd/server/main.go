package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crm-backend/internal/auth"
	"crm-backend/internal/config"
	"crm-backend/internal/engine"
	"crm-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Database.IsSQLite() {
		if err := os.MkdirAll(cfg.Database.Path, 0o755); err != nil {
			log.Fatalf("create data directory: %v", err)
		}
	}

	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer s.Close()

	if err := s.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	transformer := engine.NewTransformer(cfg.Sandbox)

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authHandler := auth.NewHandler(s, cfg.JWTSecret)
	app.Post("/api/auth/login", authHandler.Login)

	api := app.Group("/api", auth.Middleware(cfg.JWTSecret))
	engine.RegisterRoutes(api, engine.NewHandler(s, transformer), auth.RequireAdmin())

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Printf("Server listening on %s (database: %s)", addr, s.Dialect.Name())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("ERROR: shutdown: %v", err)
	}
}

// errorHandler maps errors escaping a handler onto the standard error
// envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(engine.ErrorResponse{
			Error: engine.NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message),
		})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(engine.ErrorResponse{
		Error: engine.NewAppError("INTERNAL", fiber.StatusInternalServerError, "internal server error"),
	})
}
