// Command comod runs one como process tree: Storage, Export, and
// Capture wired together under a single Supervisor (§4.8).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/como-project/como/internal/config"
	"github.com/como-project/como/internal/supervisor"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		if env := os.Getenv("COMO_CONFIG_FILE"); env != "" {
			configFile = env
		} else {
			configFile = "/etc/como/config.yaml"
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "como: failed to load configuration from %s: %v\n", configFile, err)
		os.Exit(1)
	}

	sup, err := supervisor.New(cfg, configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "como: failed to build supervisor: %v\n", err)
		os.Exit(1)
	}

	if err := sup.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "como: %v\n", err)
		os.Exit(1)
	}
}
