package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"whatsbot/internal/config"
	"whatsbot/internal/memory"
	"whatsbot/internal/provider"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run diagnostic checks (config, provider, context store, ports)",
		Long: `Verifies that whatsbot's configuration, OpenAI credentials, context
store and webhook port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("whatsbot status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config source
			if cfgPath == "" {
				printWarn("Config file", "none, using environment and defaults")
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Read(cfgPath)
			if err != nil {
				printFail("Config", err.Error())
				fmt.Printf("\nRun 'whatsbot init' to create a config template.\n")
				return fmt.Errorf("config unreadable")
			}
			if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			// 3. Provider reachable with this key
			ai := provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:  cfg.Providers.APIKey,
				APIBase: cfg.Providers.APIBase,
				Logger:  logger,
			})
			if err := ai.Healthy(ctx); err != nil {
				printFail("Provider: "+ai.Name(), err.Error())
				failed++
			} else {
				printPass("Provider: "+ai.Name(), "reachable")
				passed++
			}

			// 4. Context store opens and answers
			if err := checkStore(ctx, cfg); err != nil {
				printFail("Context store", err.Error())
				failed++
			} else {
				printPass("Context store", cfg.Memory.Driver)
				passed++
			}

			// 5. Channels
			if tw := cfg.Channels.Twilio; tw.Enabled {
				if err := checkPort(tw.Host, tw.Port); err != nil {
					printWarn("Twilio port", fmt.Sprintf("port %d may be in use: %v", tw.Port, err))
					warned++
				} else {
					printPass("Twilio port", fmt.Sprintf(":%d available", tw.Port))
					passed++
				}
				if !tw.ValidateSignature {
					printWarn("Twilio webhook", "signature validation disabled")
					warned++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				printPass("Telegram", "enabled")
				passed++
			}
			if !cfg.Channels.Twilio.Enabled && !cfg.Channels.Telegram.Enabled {
				printWarn("Channels", "none enabled; only 'whatsbot chat' will work")
				warned++
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					printWarn("Log file", err.Error())
					warned++
				} else {
					f.Close()
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkStore(ctx context.Context, cfg *config.Config) error {
	store, err := memory.NewStore(memory.StoreConfig{
		Driver:        memory.Driver(cfg.Memory.Driver),
		Window:        cfg.Memory.Window,
		DBPath:        cfg.Memory.DBPath,
		RedisAddr:     cfg.Memory.RedisAddr,
		RedisPassword: cfg.Memory.RedisPassword,
		RedisDB:       cfg.Memory.RedisDB,
		KeyPrefix:     cfg.Memory.KeyPrefix,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Get(ctx, "status:check")
	return err
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
