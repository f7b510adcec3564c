package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"rotaproxy/internal/app"
	"rotaproxy/internal/shared/config"
	"rotaproxy/internal/shared/logger"
	"rotaproxy/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "rotaproxy.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before the logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	appServer := app.New(cfg)
	appServer.Run()
}
