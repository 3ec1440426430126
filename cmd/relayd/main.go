// relayd is the public relay server. Callers that cannot hold provider
// credentials POST prompts to it; the credentialed host connects over a
// websocket and executes the runs.
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"llm-council-relay/internal/config"
	"llm-council-relay/internal/server"
	"llm-council-relay/internal/store"
)

func main() {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "LLM council relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Relay.Addr = addr
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	if err := cmd.Execute(); err != nil {
		log.Printf("relayd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	kv, err := openKV(ctx, cfg.Relay)
	if err != nil {
		return err
	}

	requests := store.NewRequestStore(kv)
	hub := server.NewHub(requests)
	_, app := server.New(server.Config{
		DefaultTimeout: cfg.Relay.DefaultTimeout,
		MaxTimeout:     cfg.Relay.MaxTimeout,
		ProxyTimeout:   cfg.Relay.ProxyTimeout,
		KeepRequests:   cfg.Relay.KeepRequests,
	}, hub, requests)

	log.Printf("relayd listening on %s", cfg.Relay.Addr)
	return app.Listen(cfg.Relay.Addr)
}

// openKV picks the request store backend: redis when configured, local
// files otherwise.
func openKV(ctx context.Context, cfg config.RelayConfig) (store.KV, error) {
	if cfg.RedisAddr != "" {
		log.Printf("relayd: using redis request store at %s", cfg.RedisAddr)
		return store.NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	log.Printf("relayd: using file request store at %s", cfg.DataDir)
	return store.NewFileKV(cfg.DataDir)
}
