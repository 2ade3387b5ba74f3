package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veridoc/veridoc/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file with sensible defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "veridoc-sync.json"
			}
			force, _ := cmd.Flags().GetBool("force")
			return writeDefaultConfig(output, force)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./veridoc-sync.json)")
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Config{
		Server: config.ServerConfig{
			Addr:           ":8090",
			AllowedOrigins: []string{"*"},
		},
		Auth: config.AuthConfig{
			Provider: "store",
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			DSN:    "veridoc.db",
		},
		Sync: config.SyncConfig{
			MaxRows: 100,
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
