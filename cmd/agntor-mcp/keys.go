package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agntor/agntor-mcp/internal/apikeys"
	"github.com/spf13/cobra"
)

var keyName string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys in the persisted key store (postgres or redis)",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openPersistedKeyStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return createKey(cmd.Context(), cmd.OutOrStdout(), store, keyName)
	},
}

var keysDeactivateCmd = &cobra.Command{
	Use:   "deactivate <key>",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openPersistedKeyStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return deactivateKey(cmd.Context(), cmd.OutOrStdout(), store, args[0])
	},
}

func init() {
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "human-readable label for the key (required)")
	_ = keysCreateCmd.MarkFlagRequired("name")

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysDeactivateCmd)
}

// openPersistedKeyStore refuses the memory store: keys created there would
// vanish when the command exits.
func openPersistedKeyStore(ctx context.Context) (keyStore, func(), error) {
	if cfg.KeyStore == keyStoreMemory {
		return nil, nil, errors.New("keys commands need a persisted store; set auth.key_store to postgres or redis")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res := newResources(cfg, logger)
	store, err := openKeyStore(ctx, res)
	if err != nil {
		res.Close()
		return nil, nil, err
	}
	return store, res.Close, nil
}

func createKey(ctx context.Context, w io.Writer, store keyStore, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("--name is required")
	}
	k, err := store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", k.ID)
	fmt.Fprintf(tw, "Name\t%s\n", k.Name)
	fmt.Fprintf(tw, "Key\t%s\n", k.Key)
	fmt.Fprintf(tw, "Created\t%s\n", k.CreatedAt.Format(time.RFC3339))
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "\nStore this key now; it cannot be shown again.")
	return nil
}

func deactivateKey(ctx context.Context, w io.Writer, store keyStore, key string) error {
	if err := store.Deactivate(ctx, key); err != nil {
		if errors.Is(err, apikeys.ErrNotFound) {
			return fmt.Errorf("no such key")
		}
		return fmt.Errorf("deactivate key: %w", err)
	}
	fmt.Fprintln(w, "key deactivated")
	return nil
}
