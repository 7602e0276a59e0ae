package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wappdesk/wappdesk/internal/config"
	"github.com/wappdesk/wappdesk/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (TOML)")
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
