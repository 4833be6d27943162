package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/JakeFAU/crawl-session-manager/internal/config"
	"github.com/JakeFAU/crawl-session-manager/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(context.Background(), *cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
