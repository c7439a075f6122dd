// roundd - Quadratic-funding settlement daemon.
//
// Hosts one funding round: ingests attested tally batches, seals and
// finalizes the round, then serves claims and redemptions until shutdown.
// Recipients and the asset reserve are provisioned through the config and
// the ingestion endpoints; see server.go for the REST surface.
//
// Usage:
//
//	roundd -config round.json
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fundinground/internal/funds"
	"fundinground/internal/registry"
	"fundinground/internal/round"
	"fundinground/internal/token"
)

func main() {
	configPath := flag.String("config", "roundd.json", "path to the daemon config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roundd: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roundd: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	coord, tokens, pool, err := buildRound(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("round construction failed")
	}

	metrics := NewMetricsCollector()
	health := NewHealthChecker(func() string { return coord.State().String() })
	health.Register("token_ledger", func() error {
		if tokens.BalanceOf(coord.PoolAccount()).Sign() < 0 {
			return errors.New("negative pool balance")
		}
		return nil
	})
	health.Register("asset_pool", func() error {
		if pool.Reserve().Sign() < 0 {
			return errors.New("negative reserve")
		}
		return nil
	})

	limiter := NewRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSec, time.Second)
	server := NewServer(coord, logger, metrics, health, limiter)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("settlement daemon listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

// buildRound assembles the round and its collaborators from the config. The
// pool account is pre-funded with the full budget in internal tokens and the
// asset reserve matches it 1:1, so every claim is redeemable.
func buildRound(cfg *Config, logger zerolog.Logger) (*round.Coordinator, *token.Ledger, *funds.Pool, error) {
	roundCfg := round.Config{
		Budget:             cfg.BudgetInt(),
		VoiceCreditFactor:  cfg.VoiceCreditFactorInt(),
		TreeDepth:          cfg.TreeDepth,
		ZeroAlphaOnNoBoost: cfg.ZeroAlphaOnNoBoost,
	}
	if cfg.TallyCommitment != "" {
		commitment, err := hex.DecodeString(cfg.TallyCommitment)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bad tally_commitment: %w", err)
		}
		roundCfg.ExpectedTallyCommitment = commitment
	}

	reg := registry.NewSimple()
	for _, r := range cfg.Recipients {
		if err := reg.SetOwner(r.Index, r.Owner); err != nil {
			return nil, nil, nil, err
		}
	}
	tokens := token.NewLedger()
	pool := funds.NewPool(cfg.BudgetInt())

	coord, err := round.New(roundCfg, reg, tokens, pool,
		round.WithLogger(logger),
		round.WithEmitter(round.LogEmitter{Logger: logger}),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := tokens.Mint(coord.PoolAccount(), cfg.BudgetInt()); err != nil {
		return nil, nil, nil, err
	}
	return coord, tokens, pool, nil
}

func newLogger(cfg *Config) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("bad log_level %q: %w", cfg.LogLevel, err)
	}

	closeLog := func() {}
	var logger zerolog.Logger
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closeLog = func() { file.Close() }
		logger = zerolog.New(file)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger(), closeLog, nil
}
