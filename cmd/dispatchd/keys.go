package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexGrek/offloadmq/pkg/apikeys"
	"github.com/AlexGrek/offloadmq/pkg/config"
	"github.com/AlexGrek/offloadmq/pkg/idgen"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

func init() {
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)

	keysCreateCmd.Flags().StringSlice("capability", []string{"*"}, "Capability patterns granted to the key (repeatable)")
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage client API keys in the local store",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new client API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		caps, _ := cmd.Flags().GetStringSlice("capability")
		reg, err := openKeyRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		key := types.ClientApiKey{
			Key:          idgen.Token(),
			Capabilities: caps,
			Created:      time.Now(),
		}
		if err := reg.Upsert(key); err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		fmt.Printf("Created API key:\n  %s\n  capabilities: %v\n", key.Key, key.Capabilities)
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active client API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openKeyRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		keys, err := reg.ListAll()
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("No active API keys")
			return nil
		}
		fmt.Printf("%-40s %-10s %s\n", "KEY", "PREDEF", "CAPABILITIES")
		for _, k := range keys {
			predef := "false"
			if k.IsPredefined {
				predef = "true"
			}
			fmt.Printf("%-40s %-10s %v\n", k.Key, predef, k.Capabilities)
		}
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke KEY",
	Short: "Revoke a client API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openKeyRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.Revoke(args[0]); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		fmt.Println("Revoked.")
		return nil
	},
}

func openKeyRegistry() (*apikeys.Registry, error) {
	cfg := config.Load()
	reg, err := apikeys.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open api key store: %w", err)
	}
	return reg, nil
}
