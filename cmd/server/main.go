package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/config"
	"github.com/Mohammed-Mafaz/Parking-System/internal/consensus"
	"github.com/Mohammed-Mafaz/Parking-System/internal/db"
	"github.com/Mohammed-Mafaz/Parking-System/internal/debounce"
	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
	"github.com/Mohammed-Mafaz/Parking-System/internal/events"
	"github.com/Mohammed-Mafaz/Parking-System/internal/fees"
	httpapi "github.com/Mohammed-Mafaz/Parking-System/internal/http"
	"github.com/Mohammed-Mafaz/Parking-System/internal/logger"
	"github.com/Mohammed-Mafaz/Parking-System/internal/payment"
	"github.com/Mohammed-Mafaz/Parking-System/internal/pipeline"
	"github.com/Mohammed-Mafaz/Parking-System/internal/plate"
	"github.com/Mohammed-Mafaz/Parking-System/internal/repository"
	"github.com/Mohammed-Mafaz/Parking-System/internal/service"
	"github.com/Mohammed-Mafaz/Parking-System/internal/slots"
)

// store is the union of the persistence contracts the engine consumes;
// both the Postgres repository and the memory store satisfy it.
type store interface {
	service.SessionStore
	slots.SlotStore
	payment.AttemptStore
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, *pretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	var st store
	switch cfg.Database.Driver {
	case "memory":
		st = repository.NewMemory()
		log.Warn().Msg("using in-memory store, state is not durable")
	default:
		gdb, err := db.Open(cfg.Database)
		if err != nil {
			return err
		}
		st = repository.NewParkingRepository(gdb)
	}

	normalizer := plate.NewNormalizer(
		cfg.Plate.MinConfidence,
		cfg.Plate.MinLength,
		plate.FormatByName(cfg.Plate.Format),
	)
	aggregator := consensus.NewAggregator(
		cfg.Consensus.Window,
		cfg.Consensus.MinAgreement,
		cfg.Consensus.IdleTTL,
	)
	cooldown := debounce.NewCache(cfg.Session.Cooldown)
	calculator := fees.NewCalculator(cfg.Fees.RatePerHour, cfg.Fees.FreeMinutes)

	sessions := service.NewSessionService(st, calculator, cooldown, log.With().Str("component", "sessions").Logger())

	provider := payment.NewRazorpayClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret)
	reconciler := payment.NewReconciler(st, provider, payment.Options{
		Currency:     cfg.Fees.Currency,
		PollInterval: cfg.Payment.PollInterval,
		PollWindow:   cfg.Payment.PollWindow,
		MaxRetries:   cfg.Payment.MaxRetries,
	}, log.With().Str("component", "payments").Logger())
	sessions.SetPaymentStarter(reconciler)

	var publisher *events.Publisher
	if cfg.Kafka.BootstrapServers != "" {
		var err error
		publisher, err = events.NewPublisher(cfg.Kafka.BootstrapServers, cfg.Kafka.Topic, log.With().Str("component", "events").Logger())
		if err != nil {
			return err
		}
		sessions.SetPublisher(publisher)
	}

	var tracker *slots.Tracker
	if len(cfg.Slots.Polygons) > 0 {
		polygons := make([]slots.Polygon, 0, len(cfg.Slots.Polygons))
		for name, vertices := range cfg.Slots.Polygons {
			p := slots.Polygon{Name: name}
			for _, v := range vertices {
				p.Vertices = append(p.Vertices, parking.Point{X: v.X, Y: v.Y})
			}
			polygons = append(polygons, p)
		}
		var err error
		tracker, err = slots.NewTracker(st, polygons, cfg.Slots.GrantDelay, cfg.Slots.RevokeDelay, log.With().Str("component", "slots").Logger())
		if err != nil {
			return err
		}
	}

	engine := pipeline.NewEngine(normalizer, aggregator, sessions, tracker, log.With().Str("component", "pipeline").Logger())

	// Housekeeping for the HTTP ingestion path; camera workers run their
	// own when embedded.
	houseCtx, houseCancel := context.WithCancel(context.Background())
	go housekeeping(houseCtx, aggregator, cooldown, tracker)

	handler := httpapi.NewHandler(engine, sessions, reconciler, tracker, cfg, log.With().Str("component", "http").Logger())
	router := httpapi.NewRouter(handler, cfg.Auth.JWTSecret, cfg.Server.AllowedOrigins)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		houseCancel()
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	houseCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// In-flight settlements get their full poll window before being cut.
	reconciler.Close(cfg.Payment.PollWindow)

	if publisher != nil {
		publisher.Close()
	}
	return nil
}

func housekeeping(ctx context.Context, aggregator *consensus.Aggregator, cooldown *debounce.Cache, tracker *slots.Tracker) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			now := time.Now()
			aggregator.EvictIdle(now)
			cooldown.Prune()
			if tracker != nil {
				tracker.Sweep(ctx, now)
			}
		}
	}
}
