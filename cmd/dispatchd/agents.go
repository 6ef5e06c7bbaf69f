package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/config"
)

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	rootCmd.AddCommand(agentsCmd)
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect registered agents in the local store",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents and their online status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		reg, err := agentregistry.Open(cfg.DataDir, agentregistry.DefaultCacheTTL)
		if err != nil {
			return fmt.Errorf("open agent registry: %w", err)
		}
		defer reg.Close()

		agents, err := reg.ListAll()
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		if len(agents) == 0 {
			fmt.Println("No registered agents")
			return nil
		}

		now := time.Now()
		fmt.Printf("%-10s %-8s %-6s %-8s %s\n", "UID", "TIER", "CAP", "ONLINE", "CAPABILITIES")
		for _, a := range agents {
			online := "no"
			if a.IsOnline(now) {
				online = "yes"
			}
			fmt.Printf("%-10s %-8d %-6d %-8s %v\n", a.UIDShort, a.Tier, a.Capacity, online, a.Capabilities)
		}
		return nil
	},
}
