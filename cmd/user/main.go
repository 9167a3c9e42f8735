package main

import (
	"fmt"
	"os"

	"github.com/infodancer/groupd/internal/client"
	"github.com/infodancer/groupd/internal/config"
	"github.com/infodancer/groupd/internal/logging"
	"github.com/infodancer/groupd/internal/repl"
)

func main() {
	flags := config.ParseUserFlags()

	cfg, err := config.LoadUser(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	c := client.New(cfg, logger)
	logger.Debug("client configured", "server", c.Addr())

	if err := repl.New(c).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
