package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semsync/config"
	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/events"
	"github.com/c360studio/semsync/kvstore"
	"github.com/c360studio/semsync/messaging"

	// Register connector factories via init().
	_ "github.com/c360studio/semsync/connector/webpage"
)

func newConnectorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Manage connectors",
	}

	var org string
	event := func(verb string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			broker, err := messaging.NewNATS(cmd.Context(), messaging.NATSConfig{
				URL:    cfg.NATS.URL,
				Stream: cfg.NATS.Stream,
			}, logger)
			if err != nil {
				return err
			}
			defer broker.Close()

			name := args[0]
			payload, err := json.Marshal(events.Event{
				EventType: name + "." + verb,
				OrgKey:    org,
			})
			if err != nil {
				return err
			}
			if err := broker.Publish(cmd.Context(), messaging.TopicConnectorEvents, name, payload); err != nil {
				return fmt.Errorf("publish %s event: %w", verb, err)
			}
			fmt.Printf("%s requested for connector %q\n", verb, name)
			return nil
		}
	}

	for _, verb := range []struct{ name, short string }{
		{events.VerbInit, "Initialize a connector instance"},
		{events.VerbStart, "Start a sync run"},
		{events.VerbResync, "Force a full resync (bumps the epoch)"},
		{events.VerbStop, "Stop a connector and cancel its sync"},
	} {
		sub := &cobra.Command{
			Use:   verb.name + " <connector>",
			Short: verb.short,
			Args:  cobra.ExactArgs(1),
			RunE:  event(verb.name),
		}
		cmd.AddCommand(sub)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "types",
			Short: "List available connector types",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Println(strings.Join(connector.RegisteredTypes(), "\n"))
				return nil
			},
		},
		newConnectorStatusCmd(opts),
		newConnectorConfigureCmd(opts),
	)

	cmd.PersistentFlags().StringVar(&org, "org", "default", "Organization scope")
	return cmd
}

func newConnectorStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <connector>",
		Short: "Show a connector's sync position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			store, err := connectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Disconnect() }()

			name := args[0]
			syncCfg, err := connector.LoadConfig(cmd.Context(), store, name)
			if err != nil {
				return err
			}
			sp, err := connector.NewSyncPointStore(store).Load(cmd.Context(), name)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"connector": name,
				"enabled":   syncCfg.Enabled,
				"interval":  syncCfg.Interval().String(),
				"cursor":    sp.Cursor,
				"epoch":     sp.Epoch,
				"updatedAt": sp.UpdatedAt,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newConnectorConfigureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure <connector> <config.json>",
		Short: "Store a connector's configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var decoded connector.Config
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}

			store, err := connectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Disconnect() }()

			name := args[0]
			if err := store.Set(cmd.Context(), fmt.Sprintf(kvstore.PathConnectorConfig, name), raw, 0); err != nil {
				return fmt.Errorf("store config: %w", err)
			}
			fmt.Printf("configuration stored for connector %q\n", name)
			return nil
		},
	}
}

func connectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kvstore.NATS, error) {
	store := kvstore.NewNATS(kvstore.NATSConfig{URL: cfg.NATS.URL, Bucket: cfg.NATS.KVBucket}, logger)
	if err := store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect KV store: %w", err)
	}
	return store, nil
}
