package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tbsync/internal/app"
	"tbsync/internal/config"
	"tbsync/internal/encryption"
	"tbsync/internal/model"
	"tbsync/internal/vault"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file from the default location.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a TBApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Submit", "Undo").
func newApp(ctx context.Context, operation string) (*app.TBApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewTBApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// dateArg returns args[0] or today's date in the configured timezone.
func dateArg(a *app.TBApp, args []string) (string, error) {
	if len(args) > 0 {
		if _, err := time.Parse(model.DateLayout, args[0]); err != nil {
			return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", args[0])
		}
		return args[0], nil
	}
	return a.Today()
}

var rootCmd = &cobra.Command{
	Use:          "tb",
	Short:        "Sync day plans to a calendar, reversibly",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := defaults.NewConfig(hostID)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.EnsureDataDirs(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		if cfg.Timezone != "" {
			fmt.Printf("Timezone: %s\n", cfg.Timezone)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Session:    %s\n", cfg.SessionID)
		fmt.Printf("Timezone:   %s\n", orDefault(cfg.Timezone, "UTC"))
		fmt.Printf("Calendar:   %s (%s)\n", cfg.Calendar.ID, cfg.Calendar.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Generator:  %s\n", cfg.Generator.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair used to seal transaction payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc == nil {
			return fmt.Errorf("encryption type is %q; set [encryption] type = \"age\" first", cfg.Encryption.Type)
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configVaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Check that every configured vault is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		var failed bool
		for _, vc := range cfg.Vaults {
			v, err := vault.NewVaultFromConfig(vc)
			if err == nil {
				err = v.ValidateSetup()
			}
			if err != nil {
				failed = true
				fmt.Printf("%s %s: %v\n", markFailed, vc.Name, err)
				continue
			}
			fmt.Printf("%s %s\n", markOK, vc.Name)
		}
		if failed {
			return fmt.Errorf("vault check failed")
		}
		return nil
	},
}

// fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch [DATE]",
	Short: "Show the calendar for a day as a plan document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Fetch")
		if err != nil {
			return err
		}
		defer a.Close()

		date, err := dateArg(a, args)
		if err != nil {
			return err
		}
		plan, err := a.Fetch(cmd.Context(), date)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", date, err)
		}
		return printPlan(plan)
	},
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff PLAN",
	Short: "Show what submitting a plan would change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Diff")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		plan, err := a.LoadPlan(args[0])
		if err != nil {
			return err
		}
		ops, divergences, err := a.Diff(cmd.Context(), plan)
		if err != nil {
			return err
		}
		printDivergences(divergences)
		if len(ops) == 0 {
			fmt.Println("Calendar already matches the plan.")
			return nil
		}
		printOps(ops)
		return nil
	},
}

// submit command
var submitCmd = &cobra.Command{
	Use:   "submit PLAN",
	Short: "Sync a plan to the calendar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Submit")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		plan, err := a.LoadPlan(args[0])
		if err != nil {
			return err
		}
		tx, err := a.Submit(cmd.Context(), plan)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		printTransaction(tx)
		return tx.Err()
	},
}

// undo command
var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the last submit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Undo")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		tx, err := a.Undo(cmd.Context())
		if err != nil {
			return fmt.Errorf("undo failed: %w", err)
		}
		printTransaction(tx)
		return tx.Err()
	},
}

// patch command
var patchCmd = &cobra.Command{
	Use:   "patch PATCH...",
	Short: "Edit the current plan with validated patches",
	Long: `Applies edit proposals to the plan for a day. Each proposal is validated;
a rejected proposal is reported back to the generator and the next one is tried.
With the default file generator each PATCH file is one proposal, tried in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		date, _ := cmd.Flags().GetString("date")
		submit, _ := cmd.Flags().GetBool("submit")

		a, err := newApp(cmd.Context(), "Patch")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		var dateArgs []string
		if date != "" {
			dateArgs = []string{date}
		}
		day, err := dateArg(a, dateArgs)
		if err != nil {
			return err
		}

		plan, err := a.Patch(cmd.Context(), day, args, feedback)
		if err != nil {
			return fmt.Errorf("patch failed: %w", err)
		}
		if !submit {
			return printPlan(plan)
		}

		tx, err := a.Submit(cmd.Context(), plan)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		printTransaction(tx)
		return tx.Err()
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		txs, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			fmt.Println("No transactions recorded.")
			return nil
		}
		for _, tx := range txs {
			printHistoryLine(tx)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Prefetch the calendar on a schedule and report outside edits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Watch")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		return a.Watch(ctx, printWatchReport)
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Manage the transaction log",
}

var logRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the local transaction log with the vault archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		version, err := app.RestoreLog(cfg)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored transaction log at sequence %d\n", version)
		return nil
	},
}

// unlock prompts for the passphrase when the log seals session state.
func unlock(a *app.TBApp) error {
	if !a.NeedsUnlock() {
		return nil
	}
	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configVaultCmd)

	// log subcommands
	logCmd.AddCommand(logRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(patchCmd)
	patchCmd.Flags().StringP("feedback", "f", "", "Instruction passed to the generator")
	patchCmd.Flags().StringP("date", "d", "", "Day to edit (default today)")
	patchCmd.Flags().Bool("submit", false, "Submit the patched plan")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of transactions to show")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logCmd)
}
