package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawd/internal/config"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		Long:  "Writes a starter config: gateway port, auth token, and optional channel credentials.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func runInit(force bool) error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
	}

	cfg := config.Default()

	port := strconv.Itoa(cfg.Gateway.Port)
	token := ""
	telegramToken := ""
	discordToken := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway port").
				Description("WebSocket listener port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Gateway token").
				Description("Bearer token clients present in the hello frame. Empty leaves the gateway open (local use only).").
				Value(&token),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Optional. Leave empty to skip the Telegram channel.").
				Value(&telegramToken),
			huh.NewInput().
				Title("Discord bot token").
				Description("Optional. Leave empty to skip the Discord channel.").
				Value(&discordToken),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	cfg.Gateway.Port, _ = strconv.Atoi(port)
	cfg.Gateway.Token = token
	if telegramToken != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = telegramToken
	}
	if discordToken != "" {
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.Token = discordToken
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Start the gateway with:  clawd")
	return nil
}
