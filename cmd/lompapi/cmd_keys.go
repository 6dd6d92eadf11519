package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"lompapi/internal/config"
	"lompapi/internal/db"
	"lompapi/internal/keys"
	"lompapi/internal/logger"

	"github.com/spf13/cobra"
)

func openManager(cfg *config.Config) (db.Service, *keys.Manager, error) {
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing database: %w", err)
	}
	return dbService, keys.NewManager(dbService, nil, cfg.Gate.DefaultRateLimit, logger.Console(cfg.Debug)), nil
}

func newKeysCmd(load configLoader) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long: `Create, list, revoke and import API keys.

A running server caches key lookups, so a key revoked here is rejected
once the server's gate.key_cache_ttl has elapsed. Revoking through the
admin API takes effect immediately.`,
	}

	withManager := func(run func(cmd *cobra.Command, args []string, m *keys.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			dbService, m, err := openManager(cfg)
			if err != nil {
				return err
			}
			defer dbService.Close()
			return run(cmd, args, m)
		}
	}

	var (
		name        string
		permissions []string
		rateLimit   int
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key and print its secret",
		Example: `  lompapi keys create --name deploy-bot --permission sites:read --permission sites:create
  lompapi keys create --name ops --permission '*' --rate-limit 1000`,
		Args: cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, _ []string, m *keys.Manager) error {
			secret, key, err := m.Create(cmd.Context(), keys.CreateRequest{
				Name:        name,
				Permissions: permissions,
				RateLimit:   rateLimit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:          %s\n", key.ID)
			fmt.Fprintf(out, "name:        %s\n", key.Name)
			fmt.Fprintf(out, "permissions: %s\n", strings.Join(key.Permissions, ","))
			fmt.Fprintf(out, "rate_limit:  %d/min\n", key.RateLimit)
			fmt.Fprintf(out, "secret:      %s\n", secret)
			fmt.Fprintln(out, "Store the secret now, it cannot be shown again.")
			return nil
		}),
	}
	createCmd.Flags().StringVar(&name, "name", "", "Key name")
	createCmd.Flags().StringSliceVarP(&permissions, "permission", "p", nil, "Capability granted to the key, repeatable ('*' grants all)")
	createCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute (0 uses gate.default_rate_limit)")
	_ = createCmd.MarkFlagRequired("name")

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		Args:  cobra.NoArgs,
		RunE: withManager(func(cmd *cobra.Command, _ []string, m *keys.Manager) error {
			list, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tPERMISSIONS\tLIMIT\tACTIVE")
			for _, k := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\n", k.ID, k.Name, k.Prefix, strings.Join(k.Permissions, ","), k.RateLimit, k.Active)
			}
			return tw.Flush()
		}),
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	revokeCmd := &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, m *keys.Manager) error {
			key, err := m.Revoke(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s (%s)\n", key.ID, key.Name)
			return nil
		}),
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import keys from an api_keys.json file",
		Long: `Import keys from a JSON file of the form
  {"api_keys": [{"key": "...", "name": "...", "active": true, "permissions": ["*"], "rate_limit": 100}]}
Keys whose secret is already known are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, m *keys.Manager) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := m.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d keys, skipped %d existing\n", res.Created, res.Skipped)
			return nil
		}),
	}

	keysCmd.AddCommand(createCmd, listCmd, revokeCmd, importCmd)
	return keysCmd
}
