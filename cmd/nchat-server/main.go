// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Chat License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nishisan-dev/n-chat/internal/config"
	"github.com/nishisan-dev/n-chat/internal/logging"
	"github.com/nishisan-dev/n-chat/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to server config file (YAML)")
	flag.Parse()

	var cfg *config.ServerConfig
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultServerConfig()
	}

	// Overrides posicionais: [port [bind-ip]]
	args := flag.Args()
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			fmt.Fprintf(os.Stderr, "Invalid port %q\n", args[0])
			os.Exit(1)
		}
		cfg.Server.Port = port
	}
	if len(args) >= 2 {
		cfg.Server.BindIP = args[1]
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	// Context com cancelamento via signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
