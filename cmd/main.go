package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomcpgo/mcp/pkg/handler"
	"github.com/gomcpgo/mcp/pkg/server"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/client"
	"github.com/gomcpgo/replicate_image_edit/pkg/config"
	"github.com/gomcpgo/replicate_image_edit/pkg/dispatcher"
	"github.com/gomcpgo/replicate_image_edit/pkg/editing"
	"github.com/gomcpgo/replicate_image_edit/pkg/generation"
	edithandler "github.com/gomcpgo/replicate_image_edit/pkg/handler"
	"github.com/gomcpgo/replicate_image_edit/pkg/httpapi"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/logging"
	"github.com/gomcpgo/replicate_image_edit/pkg/orchestrator"
	"github.com/gomcpgo/replicate_image_edit/pkg/planner"
	"github.com/gomcpgo/replicate_image_edit/pkg/segmentation"
	"github.com/gomcpgo/replicate_image_edit/pkg/storage"
	"github.com/gomcpgo/replicate_image_edit/pkg/store"
	"github.com/gomcpgo/replicate_image_edit/pkg/transform"
)

// Version information (set by build script)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

// app is the fully wired edit server.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *client.ReplicateClient
	store   store.Store
	memory  *store.MemoryStore
	handler *edithandler.ImageEditHandler
}

func newApp(cfg *config.Config, logger *zap.Logger, editModel string) (*app, error) {
	replicate := client.NewReplicateClient(cfg.ReplicateAPIToken,
		client.WithPollInterval(cfg.Timeouts.PollInterval),
		client.WithLogger(logger.Named("client")),
	)
	submit, model := cfg.Retry.Policies(logger.Named("retry"))
	runner := client.NewRunner(replicate, submit, model, cfg.Timeouts.MaxOperationTime, logger.Named("runner"))
	images := imageref.NewResolver(cfg.MaxImageBytes(), logger.Named("imageref"))

	var segmenter segmentation.Segmenter
	switch cfg.Segmenter {
	case "detect":
		segmenter = segmentation.NewDetectThenMask(runner, logger.Named("segmentation"))
	default:
		segmenter = segmentation.NewGroundedSAM(runner, images, logger.Named("segmentation"))
	}
	locator := segmentation.NewResolver(segmenter, logger.Named("segmentation"))

	editor := editing.NewEditor(runner, images, editModel, logger.Named("editing"))
	svc := transform.NewService(runner, images, logger.Named("transform"))

	exec := dispatcher.New(dispatcher.Capabilities{
		Segmenter:  locator,
		Inpainter:  svc,
		Background: svc,
		Relighter:  svc,
		Upscaler:   svc,
		Reporter:   svc,
		Generator:  generation.NewGenerator(runner, images, cfg.BackgroundModel, cfg.BackgroundSeed, logger.Named("generation")),
		Editor:     editor,
	}, logger.Named("dispatcher"))

	a := &app{cfg: cfg, logger: logger, client: replicate}
	switch cfg.Store.Backend {
	case "redis":
		rs := store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.Store.TTL,
		}, logger.Named("store"))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		a.store = rs
	default:
		a.memory = store.NewMemoryStore(cfg.Store.TTL, cfg.Store.Capacity, store.WithLogger(logger.Named("store")))
		a.store = a.memory
	}

	strategy, err := orchestrator.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(editor, planner.NewReplicate(runner, logger.Named("planner")), exec, a.store, logger.Named("orchestrator"))
	a.handler = edithandler.NewImageEditHandler(edithandler.Deps{
		Editor:          orch,
		Locator:         locator,
		Images:          images,
		Store:           a.store,
		Storage:         storage.NewStorage(cfg.ReplicateImagesRoot),
		DefaultStrategy: strategy,
		Logger:          logger.Named("handler"),
	})
	return a, nil
}

// sweep reclaims expired in-memory handles until ctx is done.
func (a *app) sweep(ctx context.Context) {
	if a.memory == nil {
		return
	}
	interval := a.cfg.Store.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.memory.Sweep(now); n > 0 {
				a.logger.Debug("swept expired images", zap.Int("count", n))
			}
		}
	}
}

func main() {
	// Parse command line flags
	var (
		configPath  string
		versionFlag bool
		httpAddr    string
		editFlag    bool
		inputImage  string
		instruction string
		strategy    string
		editModel   string
		probeModel  string
	)

	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.BoolVar(&versionFlag, "version", false, "Show version information")
	flag.StringVar(&httpAddr, "http", "", "Serve the HTTP API on this address instead of MCP over stdio (e.g., :8080)")
	flag.BoolVar(&editFlag, "edit", false, "Run one edit and print the JSON response")
	flag.StringVar(&inputImage, "input", "", "Input image for -edit (path, URL or data URI)")
	flag.StringVar(&instruction, "p", "", "Edit instruction for -edit")
	flag.StringVar(&strategy, "strategy", "", "Strategy for -edit: direct or planned")
	flag.StringVar(&editModel, "model", "kontext-pro", "Direct edit model: kontext-pro, kontext-max or kontext-dev")
	flag.StringVar(&probeModel, "probe", "", "Check that a model ID accepts predictions, then cancel")
	flag.Parse()

	if versionFlag {
		fmt.Printf("Replicate Image Edit MCP Server\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	logger, err := logging.New(cfg.DebugMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logging.Sync(logger)

	a, err := newApp(cfg, logger, editModel)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case probeModel != "":
		if err := a.probe(ctx, probeModel); err != nil {
			fmt.Printf("❌ Failed: %v\n", err)
			os.Exit(1)
		}
		return

	case editFlag:
		if inputImage == "" || instruction == "" {
			fmt.Println("Error: -input and -p are required when using -edit")
			fmt.Println("Usage: replicate_image_edit -edit -input <image> -p <instruction> [-strategy direct|planned]")
			os.Exit(1)
		}
		ok, err := a.oneShot(ctx, os.Stdout, inputImage, instruction, strategy)
		if err != nil {
			fmt.Printf("❌ Error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(2)
		}
		return
	}

	go a.sweep(ctx)

	if cfg.HTTPAddr != "" {
		api := httpapi.New(a.handler, Version, cfg.MaxImageBytes(), logger.Named("http"))
		if err := api.Run(ctx, cfg.HTTPAddr); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
		return
	}

	// Create handler registry
	registry := handler.NewHandlerRegistry()

	// Register the edit handler as a tool handler
	registry.RegisterToolHandler(a.handler)

	// Create and run MCP server
	mcpServer := server.New(server.Options{
		Name:     "Replicate Image Edit",
		Version:  Version,
		Registry: registry,
	})

	logger.Info("mcp server starting",
		zap.String("version", Version),
		zap.String("store", cfg.Store.Backend),
		zap.String("segmenter", cfg.Segmenter),
		zap.String("default_strategy", cfg.DefaultStrategy),
	)
	if err := mcpServer.Run(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
