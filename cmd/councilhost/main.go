// councilhost runs on the machine that holds the provider credential. It
// keeps a persistent websocket to the relay server, executes council
// requests arriving over it, and serves the loopback conversation API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llm-council-relay/internal/catalog"
	"llm-council-relay/internal/config"
	"llm-council-relay/internal/host"
	"llm-council-relay/internal/localapi"
	"llm-council-relay/internal/provider"
	"llm-council-relay/internal/relay"
	"llm-council-relay/internal/store"
)

func main() {
	var configPath string
	var noRelay bool

	cmd := &cobra.Command{
		Use:   "councilhost",
		Short: "LLM council host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, noRelay)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "serve the local API only, without connecting to a relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Printf("councilhost: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, noRelay bool) error {
	if cfg.OpenRouter.APIKey == "" {
		log.Fatal("OPENROUTER_API_KEY environment variable is required")
	}

	adapter := provider.NewOpenRouter(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL, cfg.OpenRouter.Timeout)
	runner := host.NewRunner(adapter, host.Options{
		Providers:    cfg.Council.Providers,
		ChairmanID:   cfg.Council.ChairmanID,
		ChairmanMode: cfg.Council.ChairmanMode,
	})

	conversations, err := store.NewConversationStore(cfg.Host.DataDir)
	if err != nil {
		return err
	}

	api := localapi.New(localapi.Config{
		AllowedOrigins: cfg.Host.CORSOrigins,
		CatalogTTL:     cfg.Host.CatalogTTL,
		TitleProvider:  titleProvider(cfg),
	}, runner, adapter, conversations, catalog.NewFetcher("", nil))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("councilhost: local API listening on %s", cfg.Host.LocalAddr)
		return api.Router().Run(cfg.Host.LocalAddr)
	})

	if !noRelay {
		client := relay.NewClient(relay.ClientConfig{
			URL:           cfg.Host.RelayURL,
			PingInterval:  cfg.Host.PingInterval,
			ReconnectBase: cfg.Host.ReconnectBase,
			ReconnectMax:  cfg.Host.ReconnectMax,
			MaxAttempts:   cfg.Host.MaxAttempts,
		}, runner, host.NewKeyAuth(cfg.Council.Providers, true), host.NewConversationHistory(conversations))

		g.Go(func() error {
			log.Printf("councilhost: connecting to relay at %s", cfg.Host.RelayURL)
			return client.Run(ctx)
		})
	}

	return g.Wait()
}

// titleProvider pins the chairman's normal-tier model for cheap title
// generation.
func titleProvider(cfg config.Config) provider.Resolved {
	p := provider.ByID(cfg.Council.Providers, cfg.Council.ChairmanID)
	if p == nil && len(cfg.Council.Providers) > 0 {
		p = &cfg.Council.Providers[0]
	}
	if p == nil {
		return provider.Resolved{}
	}
	resolved := provider.Resolve([]provider.Provider{*p}, provider.TierNormal)
	if len(resolved) == 0 {
		return provider.Resolved{}
	}
	return resolved[0]
}
