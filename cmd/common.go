package cmd

import (
	"fmt"
	"strconv"

	"github.com/mselser95/p2p-wager/pkg/config"
	"go.uber.org/zap"
)

// loadRuntime loads config and a logger for one-shot commands.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLoggerWithLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func parseBetID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bet id must be a non-negative integer, got %q", arg)
	}
	return id, nil
}
