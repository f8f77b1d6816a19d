package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/presence-data/facegate/internal/capture"
	"github.com/presence-data/facegate/internal/config"
	"github.com/presence-data/facegate/internal/db"
	"github.com/presence-data/facegate/internal/face"
	"github.com/presence-data/facegate/internal/face/index"
	"github.com/presence-data/facegate/internal/recognize"
	"github.com/presence-data/facegate/internal/timeutil"
	"github.com/presence-data/facegate/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode with synthetic capture and recognition")
	dbPath        = flag.String("db", "facegate.db", "Path to the sqlite database")
	configPath    = flag.String("config", "", "Path to a tuning config JSON file")
	migrationsDir = flag.String("migrations", "migrations", "Path to the migrations directory")
	modelsDir     = flag.String("models", "models", "Path to the dlib model directory")
	framesDir     = flag.String("frames", "", "Directory of frame images to replay as the camera")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("facegate %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			db.RunMigrateCommand(args[1:], *dbPath, *migrationsDir)
			return
		case "enroll":
			runEnroll(args[1:])
			return
		case "events":
			runEvents(args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		log.Fatalf("facegate: %v", err)
	}
}

func printHelp() {
	fmt.Fprintln(os.Stderr, "Usage: facegate [flags] [command]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  migrate <up|down|status>   manage the database schema")
	fmt.Fprintln(os.Stderr, "  enroll <name> <image>...   enroll a person from face photos")
	fmt.Fprintln(os.Stderr, "  events [limit]             list recent authentication events")
	fmt.Fprintln(os.Stderr, "With no command, runs the authentication loop.")
}

func loadTuning() (*config.TuningConfig, error) {
	if *configPath != "" {
		return config.LoadTuningConfig(*configPath)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadTuningConfig(config.DefaultConfigPath)
	}
	return config.EmptyTuningConfig(), nil
}

// openStores opens the database and wires the stores around it.
func openStores() (*db.DB, *db.IdentityStore, *db.AuthEventStore, error) {
	database, err := db.OpenDB(*dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.MigrateUp(*migrationsDir); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, db.NewIdentityStore(database), db.NewAuthEventStore(database), nil
}

func run() error {
	tuning, err := loadTuning()
	if err != nil {
		return err
	}

	database, identities, events, err := openStores()
	if err != nil {
		return err
	}
	defer database.Close()

	var source capture.Source
	var detector face.Detector
	var embedder face.Embedder
	var spoofModel face.SpoofModel

	if *devMode {
		source = capture.NewSyntheticSource(640, 480)
		stub := newDevRecognizer()
		detector = stub
		embedder = stub
		spoofModel = devSpoofModel{}
		log.Println("Running in dev mode with synthetic capture")
	} else {
		if *framesDir == "" {
			return fmt.Errorf("-frames is required outside dev mode")
		}
		source, err = capture.NewDirSource(*framesDir)
		if err != nil {
			return err
		}

		rec, err := recognize.New(*modelsDir)
		if err != nil {
			return err
		}
		defer rec.Close()
		detector = rec
		embedder = rec

		// no spoof classifier is bundled; the screen fails open
		spoofModel = unavailableSpoofModel{}
	}
	defer source.Close()

	clock := timeutil.RealClock{}

	matcher, err := face.NewMatcher(identities, index.NewMemory(face.EmbeddingDim), face.MatcherConfig{
		MatchThreshold:          tuning.GetMatchThreshold(),
		HighConfidenceThreshold: tuning.GetHighConfidenceThreshold(),
		Candidates:              tuning.GetMatchCandidates(),
	})
	if err != nil {
		return err
	}
	if err := matcher.Reload(); err != nil {
		return err
	}

	engine := face.NewEngine(face.EngineConfigFromTuning(tuning), clock)
	spoof := face.NewSpoofAdapter(spoofModel, tuning.GetSpoofRealThreshold(), tuning.GetSpoofCropScale())
	publisher := face.NewPublisher()
	audit := face.NewAuditSink(events, 256)
	defer audit.Close()

	pipeline := face.NewPipeline(face.PipelineConfigFromTuning(tuning),
		detector, embedder, matcher, engine, spoof, publisher, audit, clock)

	swap := capture.NewFrameSwap()
	loop := capture.NewLoop(capture.LoopConfig{
		Interval:  tuning.GetCaptureInterval(),
		FrameSkip: tuning.GetFrameSkip(),
	}, source, swap, func(seq uint64, frame *capture.Frame) {
		defer frame.Release()
		pipeline.Process(seq, frame.Image)
	}, clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("capture loop stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDisplay(ctx, swap, publisher, tuning, clock)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runStatsLogger(ctx, pipeline, clock)
	}()

	log.Printf("facegate %s running (db=%s)", version.Version, *dbPath)
	<-ctx.Done()
	wg.Wait()
	return nil
}

func runEnroll(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: facegate enroll <name> <image>...")
		os.Exit(1)
	}
	name := args[0]

	database, identities, _, err := openStores()
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer database.Close()

	var detector face.Detector
	var embedder face.Embedder
	if *devMode {
		stub := newDevRecognizer()
		detector, embedder = stub, stub
	} else {
		rec, err := recognize.New(*modelsDir)
		if err != nil {
			log.Fatalf("Failed to load recognizer: %v", err)
		}
		defer rec.Close()
		detector, embedder = rec, rec
	}

	id, err := identities.InsertIdentity(name)
	if err != nil {
		log.Fatalf("Failed to create identity: %v", err)
	}

	enrolled := 0
	for _, path := range args[1:] {
		emb, err := embedFromFile(detector, embedder, path)
		if err != nil {
			log.Printf("Skipping %s: %v", path, err)
			continue
		}
		if _, err := identities.AddEmbedding(id, emb); err != nil {
			log.Printf("Skipping %s: %v", path, err)
			continue
		}
		enrolled++
	}
	if enrolled == 0 {
		log.Fatalf("No usable face images for %s", name)
	}
	log.Printf("Enrolled %s (id=%d) with %d embedding(s)", name, id, enrolled)
}

func runEvents(args []string) {
	limit := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil {
			log.Fatalf("Invalid limit %q", args[0])
		}
	}

	database, _, events, err := openStores()
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer database.Close()

	list, err := events.RecentEvents(limit)
	if err != nil {
		log.Fatalf("Failed to list events: %v", err)
	}
	for _, ev := range list {
		name := "-"
		if ev.IdentityName != nil {
			name = *ev.IdentityName
		}
		dist := "-"
		if ev.Distance != nil {
			dist = fmt.Sprintf("%.3f", *ev.Distance)
		}
		fmt.Printf("%s  %-20s  %-10s  matched=%-5v dist=%-6s liveness=%s\n",
			ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.EventID, name, ev.Matched, dist, ev.LivenessState)
	}
}
