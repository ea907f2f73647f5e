package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"agchain/config"
	"agchain/core"
	"agchain/core/types"
	"agchain/observability/logging"
	"agchain/rpc"
	"agchain/state"
	"agchain/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "agd.toml", "path to the node configuration file")
	listen := flag.String("listen", "", "override the RPC listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}

	logger := logging.Setup(logging.Options{
		Service:    "agd",
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	interval, err := cfg.BlockIntervalDuration()
	if err != nil {
		return err
	}
	profile, err := config.LoadTokenProfile(cfg.TokenProfilePath)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		return err
	}
	processor, err := core.NewProcessor(manager, profile, logger)
	if err != nil {
		return err
	}

	if processor.Height() == 0 && len(cfg.Genesis) > 0 {
		alloc, err := genesisAlloc(cfg.Genesis)
		if err != nil {
			return err
		}
		if err := processor.ApplyGenesis(alloc); err != nil {
			return err
		}
		logger.Info("genesis applied", "accounts", len(alloc))
	}

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: rpc.NewServer(processor, logger).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				height := processor.Height() + 1
				now := uint64(time.Now().Unix())
				if _, err := processor.ProcessBlockLifecycle(height, now); err != nil {
					errCh <- fmt.Errorf("block %d: %w", height, err)
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("fatal", "err", err)
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func genesisAlloc(entries []config.GenesisBalance) ([]core.GenesisAccount, error) {
	alloc := make([]core.GenesisAccount, 0, len(entries))
	for _, e := range entries {
		addr, err := types.ParseAddress(e.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis address %q: %w", e.Address, err)
		}
		bal, ok := new(big.Int).SetString(e.Balance, 10)
		if !ok || bal.Sign() < 0 {
			return nil, fmt.Errorf("genesis balance %q malformed", e.Balance)
		}
		alloc = append(alloc, core.GenesisAccount{Address: addr, Balance: bal})
	}
	return alloc, nil
}
