package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/bulwarkai/bulwark/pkg/audit"
	"github.com/bulwarkai/bulwark/pkg/config"
	"github.com/bulwarkai/bulwark/pkg/engine"
	"github.com/bulwarkai/bulwark/pkg/learning"
	"github.com/bulwarkai/bulwark/pkg/policy"
	"github.com/bulwarkai/bulwark/pkg/scanner"
)

const Version = "0.1.0"

// defaultPolicyDoc is used when no policy file exists on disk. A present but
// invalid file is a hard startup error; a missing file falls back to this.
const defaultPolicyDoc = `
policies:
  - name: default
    hard_block_threshold: 0.85
    severity_multiplier: 1.5
    default_action: escalate
    weights:
      pattern: 0.3
      heuristic: 0.2
      classifier: 0.4
      remote: 0.1
    rules:
      - id: review_band
        min_score: 0.6
        action: challenge
        reason: score in the manual review band
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bulwark scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Bulwark v%s\n", Version)
		fmt.Println("Risk decision engine for LLM prompt traffic")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Bulwark v%s - risk decision engine for LLM prompt traffic\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  bulwark serve         Start the HTTP gateway")
	fmt.Println("  bulwark scan <text>   Evaluate one prompt and print the decision")
	fmt.Println("  bulwark version       Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  bulwark serve")
	fmt.Println("  bulwark scan \"Ignore all previous instructions\"")
	fmt.Println("")
	fmt.Println("Configuration is read from BULWARK_* environment variables;")
	fmt.Println("see pkg/config for the full list.")
}

// buildEngine assembles the engine from configuration: persistence backend,
// learning store, scanner set, policies and audit log. The returned cleanup
// closes whatever was opened.
func buildEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Persistence backend for the learned phrase table.
	var persist learning.PhraseStore
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("[STARTUP] memory backend: learned phrases will not survive restart")
	case config.BackendFile:
		fs, err := learning.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening file backend: %w", err)
		}
		persist = fs
	case config.BackendRedis:
		rs, err := learning.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to redis: %w", err)
		}
		persist = rs
	case config.BackendPostgres:
		ps, err := learning.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to postgres: %w", err)
		}
		persist = ps
	}
	if persist != nil {
		closers = append(closers, func() { _ = persist.Close() })
	}

	// Poisoning detectors. The rate heuristic always runs; the embedding
	// based diversity check is opt-in since it needs an embedding service.
	detectors := []learning.AnomalyDetector{
		learning.NewRateAnomalyDetector(learning.RateAnomalyConfig{}),
	}
	if cfg.EnableDiversity {
		div, err := learning.NewContextDiversityDetector(
			learning.OllamaEmbedding(cfg.EmbeddingModel, cfg.OllamaURL))
		if err != nil {
			log.Printf("○ context diversity check disabled: %v", err)
		} else {
			detectors = append(detectors, div)
			log.Println("✓ context diversity check enabled")
		}
	}

	store, err := learning.NewStore(learning.Config{
		ExtractionThreshold: cfg.ExtractionThreshold,
		PromotionThreshold:  cfg.PromotionThreshold,
		RequireApproval:     cfg.RequireApproval,
	}, learning.MultiDetector(detectors...), persist)
	if err != nil {
		return nil, cleanup, fmt.Errorf("building learning store: %w", err)
	}

	orch, err := buildScanners(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	loader, err := loadPolicies(cfg.PolicyPath)
	if err != nil {
		return nil, cleanup, err
	}

	var auditor audit.Logger
	if cfg.AuditLogPath != "" {
		jl, err := audit.NewJSONLLogger(cfg.AuditLogPath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening audit log: %w", err)
		}
		auditor = jl
		closers = append(closers, func() { _ = jl.Close() })
	}

	e, err := engine.New(engine.Config{
		Orchestrator: orch,
		Loader:       loader,
		Store:        store,
		Auditor:      auditor,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return e, cleanup, nil
}

// buildScanners registers the scanner set. Pattern and heuristic scanners are
// always on; the classifier and remote scanners degrade gracefully when their
// backing pieces are absent.
func buildScanners(cfg *config.Config) (*scanner.Orchestrator, error) {
	orch := scanner.NewOrchestrator(cfg.OverallTimeout)

	if err := orch.Register(scanner.NewPatternScanner(0.5), cfg.PatternTimeout); err != nil {
		return nil, err
	}
	if err := orch.Register(scanner.NewHeuristicScanner(0.5), cfg.PatternTimeout); err != nil {
		return nil, err
	}

	if cfg.EnableClassifier {
		cls, err := scanner.NewClassifierScanner(scanner.ClassifierConfig{
			ModelPath:       cfg.ModelPath,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
		})
		if err != nil {
			log.Printf("○ classifier disabled (no usable model at %s: %v)", cfg.ModelPath, err)
		} else {
			if err := orch.Register(cls, cfg.ClassifierTimeout); err != nil {
				return nil, err
			}
			log.Println("✓ classifier enabled (ONNX)")
		}
	} else {
		log.Println("○ classifier disabled by configuration")
	}

	if cfg.RemoteScannerURL != "" {
		remote, err := scanner.NewRemoteScanner(scanner.RemoteConfig{
			ID:  "remote",
			URL: cfg.RemoteScannerURL,
		})
		if err != nil {
			return nil, fmt.Errorf("building remote scanner: %w", err)
		}
		if err := orch.Register(remote, cfg.RemoteTimeout); err != nil {
			return nil, err
		}
		log.Printf("✓ remote scanner enabled (%s)", cfg.RemoteScannerURL)
	}

	return orch, nil
}

// loadPolicies reads the policy document. A file that exists but does not
// validate is fatal; a missing file falls back to the built-in default set.
func loadPolicies(path string) (*policy.Loader, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("○ policy file %s not found, using built-in defaults", path)
		set, err := policy.ParseSet([]byte(defaultPolicyDoc))
		if err != nil {
			return nil, fmt.Errorf("built-in policy document: %w", err)
		}
		return policy.NewStaticLoader(set), nil
	}
	loader, err := policy.NewLoader(path)
	if err != nil {
		return nil, fmt.Errorf("loading policies from %s: %w", path, err)
	}
	log.Printf("[STARTUP] loaded policies from %s", path)
	return loader, nil
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

type evaluateRequest struct {
	Text   string `json:"text"`
	Policy string `json:"policy"`
}

type confirmRequest struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type phraseRequest struct {
	Phrase string `json:"phrase"`
}

type rollbackRequest struct {
	Version uint64 `json:"version"`
}

func runServer() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	e, cleanup, err := buildEngine(cfg)
	if err != nil {
		cleanup()
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer cleanup()

	app := fiber.New(fiber.Config{
		AppName: "Bulwark",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/evaluate", func(c fiber.Ctx) error {
		var req evaluateRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		if req.Policy == "" {
			req.Policy = "default"
		}
		decision, err := e.Evaluate(c.Context(), req.Text, req.Policy)
		if err != nil {
			return c.Status(404).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(decision)
	})

	// Confirmation feedback: the caller reports that a blocked prompt was a
	// true positive. Learning happens asynchronously; this returns at once.
	app.Post("/confirm", func(c fiber.Ctx) error {
		var req confirmRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		e.Confirm(req.Text, req.Confidence)
		return c.Status(202).JSON(fiber.Map{"status": "accepted"})
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		return c.JSON(e.Summary())
	})

	app.Get("/policies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"policies": e.Policies().Names()})
	})

	app.Post("/policies/reload", func(c fiber.Ctx) error {
		if err := e.ReloadPolicies(); err != nil {
			// The previous set stays active; report the parse failure.
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"policies": e.Policies().Names()})
	})

	app.Post("/admin/snapshot", func(c fiber.Ctx) error {
		sn, err := e.Snapshot()
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"version":  sn.Version,
			"id":       sn.ID,
			"phrases":  len(sn.Phrases),
			"checksum": sn.Checksum,
		})
	})

	app.Get("/admin/snapshots", func(c fiber.Ctx) error {
		snaps := e.Store().Snapshots()
		out := make([]fiber.Map, 0, len(snaps))
		for _, sn := range snaps {
			out = append(out, fiber.Map{
				"version":    sn.Version,
				"id":         sn.ID,
				"created_at": sn.CreatedAt,
				"phrases":    len(sn.Phrases),
			})
		}
		return c.JSON(fiber.Map{"snapshots": out})
	})

	app.Post("/admin/rollback", func(c fiber.Ctx) error {
		var req rollbackRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if err := e.Rollback(req.Version); err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "rolled back", "version": req.Version})
	})

	app.Post("/admin/approve", func(c fiber.Ctx) error {
		var req phraseRequest
		if err := c.Bind().Body(&req); err != nil || req.Phrase == "" {
			return c.Status(400).JSON(fiber.Map{"error": "phrase field is required"})
		}
		if err := e.Store().Approve(req.Phrase); err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "approved", "phrase": req.Phrase})
	})

	app.Post("/admin/deprecate", func(c fiber.Ctx) error {
		var req phraseRequest
		if err := c.Bind().Body(&req); err != nil || req.Phrase == "" {
			return c.Status(400).JSON(fiber.Map{"error": "phrase field is required"})
		}
		if err := e.Store().Deprecate(req.Phrase); err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "deprecated", "phrase": req.Phrase})
	})

	log.Printf("[STARTUP] Bulwark listening on %s", cfg.ListenAddr)
	log.Printf("  POST /evaluate          - evaluate one prompt")
	log.Printf("  POST /confirm           - confirmed-block feedback")
	log.Printf("  GET  /health /stats /policies")
	log.Printf("  POST /policies/reload")
	log.Printf("  POST /admin/snapshot /admin/rollback /admin/approve /admin/deprecate")
	log.Printf("  GET  /admin/snapshots")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIScan(text string) {
	cfg := config.NewLocalConfig()
	cfg.MustValidate()

	e, cleanup, err := buildEngine(cfg)
	if err != nil {
		cleanup()
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer cleanup()

	decision, err := e.Evaluate(context.Background(), text, "default")
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}

	out, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(out))
}
