package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/storytailor/storytailor/ai"
	"github.com/storytailor/storytailor/config"
	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/jobs"
	"github.com/storytailor/storytailor/media"
	"github.com/storytailor/storytailor/middleware"
	"github.com/storytailor/storytailor/pipeline"
	"github.com/storytailor/storytailor/routes"
	"github.com/storytailor/storytailor/storage"
)

func newServeCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the render workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newNarrator(cfg *config.Config, gemini *ai.GeminiClient) ai.Narrator {
	if cfg.TTSProvider == "elevenlabs" {
		return ai.NewElevenLabsNarrator(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
	}
	return gemini
}

func newAuthenticator(cfg *config.Config, h *routes.Handler) (*middleware.Authenticator, error) {
	if cfg.Auth0Enabled() {
		log.Printf("Auth0 Domain: %s, Auth0 Audience: %s, Callback URL: %s",
			cfg.Auth0Domain, cfg.Auth0Audience, cfg.Auth0CallbackURL)
		return middleware.NewAuth0Authenticator(h.DB, cfg.Auth0Domain, cfg.Auth0Audience)
	}
	log.Println("Warning: Auth0 is not configured, accepting HS256 tokens signed with JWT_SECRET")
	return middleware.NewSecretAuthenticator(h.DB, cfg.JWTSecret), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiOptions{
		APIKey:     cfg.GeminiAPIKey,
		TextModel:  cfg.TextModel,
		TTSModel:   cfg.TTSModel,
		ImageModel: cfg.ImageModel,
	})
	if err != nil {
		return err
	}

	p := pipeline.New(db, store, gemini, newNarrator(cfg, gemini), gemini)
	p.TempDir = cfg.RenderDir

	manager := jobs.NewManager(db, store)
	worker := jobs.NewWorker(manager, db, store,
		media.NewFFmpegRenderer(runtime.NumCPU()),
		filepath.Join(cfg.RenderDir, "storytailor-render"))
	worker.Workers = cfg.RenderWorkers
	worker.Retention = cfg.JobRetention

	h := &routes.Handler{
		DB:       db,
		Pipeline: p,
		Jobs:     manager,
		Sessions: session.New(session.Config{
			Expiration:     24 * time.Hour,
			CookieSecure:   cfg.SessionSecure,
			CookieHTTPOnly: true,
			CookieSameSite: fiber.CookieSameSiteLaxMode,
		}),
		OAuth:         routes.NewOAuthConfig(cfg),
		Auth0Domain:   cfg.Auth0Domain,
		Auth0Audience: cfg.Auth0Audience,
		SecureCookies: cfg.SessionSecure,
	}

	auth, err := newAuthenticator(cfg, h)
	if err != nil {
		return err
	}
	defer auth.Close()

	app := fiber.New(fiber.Config{
		Views: html.New("./views", ".html"),
		// Narration and illustration requests wait on the providers.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	})
	app.Use(logger.New())
	routes.Register(app, h, auth.AuthRequired())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("Server starting on :%s", cfg.Port)
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		log.Println("Server stopped")
		return nil
	}
	return err
}
