package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenyx/fleet/pkg/api"
	"github.com/zenyx/fleet/pkg/client"
	"github.com/zenyx/fleet/pkg/config"
	"github.com/zenyx/fleet/pkg/events"
	"github.com/zenyx/fleet/pkg/gateway"
	"github.com/zenyx/fleet/pkg/log"
	"github.com/zenyx/fleet/pkg/manager"
	"github.com/zenyx/fleet/pkg/metrics"
	"github.com/zenyx/fleet/pkg/storage"
	"github.com/zenyx/fleet/pkg/supervisor"
	"github.com/zenyx/fleet/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet - multi-tenant bot fleet supervisor",
	Long: `Fleet runs and supervises a fleet of messaging bots, one worker per
bot, reconciling the set of running workers against the bot records in
its store. Crashed workers restart with backoff, paused bots stop, and
rotated credentials take effect without a daemon restart.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(statusCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fleet daemon",
	Long: `Run the fleet daemon: the supervisor, the management API, and the
metrics endpoint. Configuration comes from FLEET_* environment
variables; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if addr, _ := cmd.Flags().GetString("api-addr"); addr != "" {
			cfg.APIAddr = addr
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.DataDir = dir
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)

		logger := log.WithComponent("main")
		logger.Info().
			Str("data_dir", cfg.DataDir).
			Str("api_addr", cfg.APIAddr).
			Dur("reconcile_interval", cfg.ReconcileInterval).
			Msg("starting fleet daemon")

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "open")

		gw := gateway.NewHTTPClient(cfg.GatewayBaseURL)

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		mgr := manager.NewManager(manager.Config{
			Store:                store,
			Gateway:              gw,
			Broker:               broker,
			BroadcastConcurrency: cfg.BroadcastConcurrency,
			BroadcastRate:        cfg.BroadcastRate,
			FollowUpDelay:        cfg.FollowUpDelay,
		})

		sup := supervisor.New(supervisor.Config{
			Store:         store,
			Gateway:       gw,
			Broker:        broker,
			Dispatch:      mgr.Dispatch,
			Interval:      cfg.ReconcileInterval,
			ShutdownGrace: cfg.ShutdownGrace,
		})
		mgr.AttachRegistry(sup)

		sup.Start()
		metrics.RegisterComponent("supervisor", true, "reconciling")

		apiServer := api.NewServer(mgr, sup)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("shutting down after API failure")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API shutdown incomplete")
		}
		sup.Stop()

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("api-addr", "", "API listen address (overrides FLEET_API_ADDR)")
	runCmd.Flags().String("data-dir", "", "Data directory (overrides FLEET_DATA_DIR)")
}

// Bot commands
var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Manage bots",
}

var botCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		token, _ := cmd.Flags().GetString("token")

		bot, err := apiClient(cmd).CreateBot(owner, token)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Bot created: %s (@%s)\n", bot.ID, bot.Username)
		return nil
	},
}

var botListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bots",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")

		bots, err := apiClient(cmd).ListBots(owner)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tOWNER\tSTATUS\tUPDATED")
		for _, bot := range bots {
			fmt.Fprintf(w, "%s\t@%s\t%s\t%s\t%s\n",
				bot.ID, bot.Username, bot.OwnerID, bot.Status,
				bot.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var botPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause a bot's worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).PauseBot(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Bot paused: %s\n", args[0])
		return nil
	},
}

var botResumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume a paused bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).ResumeBot(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Bot resumed: %s\n", args[0])
		return nil
	},
}

var botRekeyCmd = &cobra.Command{
	Use:   "rekey ID",
	Short: "Rotate a bot's credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		bot, err := apiClient(cmd).RekeyBot(args[0], token)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Credential rotated for %s (@%s)\n", bot.ID, bot.Username)
		return nil
	},
}

var botDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a bot permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).DeleteBot(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Bot deleted: %s\n", args[0])
		return nil
	},
}

var botBroadcastCmd = &cobra.Command{
	Use:   "broadcast ID",
	Short: "Broadcast a message to a bot's subscribers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		buttonText, _ := cmd.Flags().GetString("button-text")
		buttonURL, _ := cmd.Flags().GetString("button-url")

		err := apiClient(cmd).StartBroadcast(args[0], payloadFrom(text, buttonText, buttonURL))
		if err != nil {
			return err
		}
		fmt.Println("✓ Broadcast started")
		return nil
	},
}

func init() {
	botCmd.AddCommand(botCreateCmd)
	botCmd.AddCommand(botListCmd)
	botCmd.AddCommand(botPauseCmd)
	botCmd.AddCommand(botResumeCmd)
	botCmd.AddCommand(botRekeyCmd)
	botCmd.AddCommand(botDeleteCmd)
	botCmd.AddCommand(botBroadcastCmd)

	botCmd.PersistentFlags().String("api", "localhost:8080", "Fleet API address")

	botCreateCmd.Flags().String("owner", "", "Owner ID")
	botCreateCmd.Flags().String("token", "", "Bot credential")
	_ = botCreateCmd.MarkFlagRequired("owner")
	_ = botCreateCmd.MarkFlagRequired("token")

	botListCmd.Flags().String("owner", "", "Filter by owner")

	botRekeyCmd.Flags().String("token", "", "New bot credential")
	_ = botRekeyCmd.MarkFlagRequired("token")

	botBroadcastCmd.Flags().String("text", "", "Message text")
	botBroadcastCmd.Flags().String("button-text", "", "Inline button label")
	botBroadcastCmd.Flags().String("button-url", "", "Inline button URL")
	_ = botBroadcastCmd.MarkFlagRequired("text")
}

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet worker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, err := apiClient(cmd).FleetStatus()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BOT\tSTATE\tUPTIME\tRESTARTS\tLAST ERROR")
		for _, ws := range workers {
			uptime := ""
			if !ws.StartedAt.IsZero() {
				uptime = time.Since(ws.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				ws.BotID, ws.State, uptime, ws.RestartCount, ws.LastError)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().String("api", "localhost:8080", "Fleet API address")
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	return client.NewClient(addr)
}

func payloadFrom(text, buttonText, buttonURL string) types.Payload {
	return types.Payload{
		Text:       text,
		ButtonText: buttonText,
		ButtonURL:  buttonURL,
	}
}
