package main

import (
	"context"
	"fmt"
	"os"

	"github.com/villatrans/carnet-backend/internal/data/db"
	"github.com/villatrans/carnet-backend/internal/data/repos"
	httpx "github.com/villatrans/carnet-backend/internal/http"
	httpH "github.com/villatrans/carnet-backend/internal/http/handlers"
	"github.com/villatrans/carnet-backend/internal/jobs"
	"github.com/villatrans/carnet-backend/internal/pkg/logger"
	"github.com/villatrans/carnet-backend/internal/render"
	"github.com/villatrans/carnet-backend/internal/services"
	"github.com/villatrans/carnet-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	port := utils.GetEnv("PORT", "8080", log)
	fontsDir := utils.GetEnv("CARNET_FONTS_DIR", "./fonts", log)
	storageRoot := utils.GetEnv("CARNET_STORAGE_ROOT", "./storage", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	driverRepo := repos.NewDriverRepo(thePG, log)
	templateRepo := repos.NewTemplateRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	jobRepo := repos.NewJobRepo(thePG, log)

	// Render engine
	log.Info("Setting up render engine from main...")
	fontResolver := render.NewFontResolver(fontsDir, log)
	imageLoader := render.NewImageLoader(log)
	compositor := render.NewCompositor(log, fontResolver, imageLoader)
	converter := render.NewDocumentConverter(log)

	// Services
	log.Info("Setting up Services from main...")
	storageService, err := services.NewStorageService(log)
	if err != nil {
		log.Fatal("Storage init failed", "error", err)
	}
	carnetService := services.NewCarnetService(thePG, log, driverRepo, templateRepo, sessionRepo, jobRepo, compositor, converter, storageService)
	finalizerService := services.NewFinalizerService(thePG, log, sessionRepo, driverRepo, storageService)
	generationService := services.NewGenerationService(thePG, log, driverRepo, templateRepo, sessionRepo, jobRepo, carnetService, finalizerService, storageService)

	// Job worker
	log.Info("Setting up job worker from main...")
	registry := jobs.NewRegistry()
	if err := registry.Register(jobs.NewCarnetGenerateHandler(log, carnetService, sessionRepo)); err != nil {
		log.Fatal("Failed to register carnet_generate handler", "error", err)
	}
	if err := registry.Register(jobs.NewSessionFinalizeHandler(log, finalizerService)); err != nil {
		log.Fatal("Failed to register session_finalize handler", "error", err)
	}
	worker := jobs.NewWorker(thePG, log, jobRepo, registry)
	worker.Start(context.Background())

	// HTTP
	log.Info("Setting up HTTP server from main...")
	server := httpx.NewServer(httpx.RouterConfig{
		GenerationHandler: httpH.NewGenerationHandler(log, generationService, driverRepo, storageService),
		TemplateHandler:   httpH.NewTemplateHandler(log, templateRepo),
		HealthHandler:     httpH.NewHealthHandler(),
		StorageRoot:       storageRoot,
	})

	log.Info("Starting server", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
