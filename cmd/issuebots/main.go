package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/issue-watch-bots/internal/bot"
	"github.com/kurihiro0119/issue-watch-bots/internal/config"
	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/forge"
	"github.com/kurihiro0119/issue-watch-bots/internal/logging"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage/postgres"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage/sqlite"
	"github.com/kurihiro0119/issue-watch-bots/pkg/client"
)

var (
	botsFile   string
	botName    string
	outputJSON bool

	workBot   string
	workKind  string
	workLimit int
)

var rootCmd = &cobra.Command{
	Use:   "issuebots",
	Short: "Issue and pull request watch bots",
	Long: `Bots that watch issue trackers and repositories for changes.

Each tracker gets one detector bot that polls for updated issues. Each
repository gets one pull request bot that runs after the detectors and
re-evaluates new or updated pull requests.`,
	SilenceUsage: true,
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Show the bot set a configuration produces",
	Long:  `Load the bots file, compose the bots of one section and print them in run order.`,
	Args:  cobra.NoArgs,
	RunE:  runCompose,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running instance",
	Long:  `Query the status API of a running instance (API_ENDPOINT) and print every bot.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "List recorded work units",
	Long:  `List the work units recorded in storage, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runWork,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&botsFile, "bots", "", "bots file (default is $BOTS_CONFIG or ./bots.yaml)")
	rootCmd.PersistentFlags().StringVar(&botName, "bot", "", "bot section to use (default is $BOT_NAME or csr)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	workCmd.Flags().StringVar(&workBot, "for", "", "only work units emitted by this bot")
	workCmd.Flags().StringVar(&workKind, "kind", "", "only work units of this kind (issue, pull_request)")
	workCmd.Flags().IntVar(&workLimit, "limit", 50, "maximum number of work units")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if botsFile != "" {
		cfg.BotsConfigPath = botsFile
	}
	if botName != "" {
		cfg.BotName = botName
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.SlogLogger {
	return logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// composeBots loads the bots file and composes the configured section
// against GitHub
func composeBots(cfg *config.Config, logger logging.Logger) ([]bot.Bot, error) {
	gh, err := forge.NewGitHub(forge.GitHubOptions{
		Token:   cfg.GitHubToken,
		BaseURL: cfg.GitHubAPIURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	botsCfg, err := config.LoadBots(cfg.BotsConfigPath)
	if err != nil {
		return nil, err
	}
	entries, err := botsCfg.Entries(cfg.BotName, gh.Host())
	if err != nil {
		return nil, err
	}
	return bot.Compose(entries, gh, logger)
}

type composedBot struct {
	Position     int      `json:"position"`
	Name         string   `json:"name"`
	Phase        string   `json:"phase"`
	Tracker      string   `json:"tracker"`
	Repositories []string `json:"repositories"`
}

func runCompose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bots, err := composeBots(cfg, logging.NewNop())
	if err != nil {
		return fmt.Errorf("invalid bot configuration: %w", err)
	}

	out := make([]composedBot, 0, len(bots))
	for i, b := range bots {
		cb := composedBot{Position: i, Name: b.Name(), Phase: b.Phase().String()}
		if insp, ok := b.(bot.Inspector); ok {
			snap := insp.Snapshot()
			cb.Tracker = snap.Tracker
			cb.Repositories = snap.Repositories
		}
		out = append(out, cb)
	}

	if outputJSON {
		return printJSON(out)
	}

	fmt.Printf("\nBots for %s (%s)\n\n", cfg.BotName, cfg.BotsConfigPath)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Bot", "Phase", "Tracker", "Repositories"})
	for _, cb := range out {
		table.Append([]string{
			strconv.Itoa(cb.Position),
			cb.Name,
			cb.Phase,
			cb.Tracker,
			strings.Join(cb.Repositories, ", "),
		})
	}
	table.Render()

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c := client.NewClient(cfg.APIEndpoint)
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	bots, err := c.GetBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot status: %w", err)
	}

	if outputJSON {
		return printJSON(bots)
	}

	fmt.Printf("\nBot status at %s\n\n", cfg.APIEndpoint)

	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Bot", "Phase", "State", "Cursor", "Seen", "Last Run", "Emitted"})
	failing := 0
	for _, b := range bots {
		state := green("ok")
		switch {
		case !b.Healthy:
			state = red("failing")
			failing++
		case !b.Initialized:
			state = yellow("starting")
		}

		lastRun, emitted := "-", "-"
		if b.LastRun != nil {
			lastRun = humanizeAge(time.Since(b.LastRun.StartedAt))
			emitted = strconv.Itoa(b.LastRun.Emitted)
		}

		cursor := "-"
		if !b.HighWaterMark.IsZero() {
			cursor = b.HighWaterMark.UTC().Format(time.RFC3339)
		}

		table.Append([]string{b.Name, b.Phase, state, cursor, strconv.Itoa(b.LastSeen), lastRun, emitted})
	}
	table.Render()

	if failing > 0 {
		fmt.Println(red(fmt.Sprintf("\n%d of %d bots failing", failing, len(bots))))
		for _, b := range bots {
			if !b.Healthy && b.LastRun != nil {
				fmt.Printf("  %s: %s\n", b.Name, b.LastRun.Error)
			}
		}
	}

	return nil
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	units, err := store.GetWorkUnits(cmd.Context(), domain.WorkUnitFilter{
		Bot:   workBot,
		Kind:  domain.WorkKind(workKind),
		Limit: workLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to get work units: %w", err)
	}

	if outputJSON {
		return printJSON(units)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Created", "Kind", "Bot", "Entity", "Updated", "Title"})
	for _, u := range units {
		table.Append([]string{
			u.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			string(u.Kind),
			u.Bot,
			u.EntityID,
			u.EntityUpdatedAt.UTC().Format(time.RFC3339),
			u.Title,
		})
	}
	table.Render()
	fmt.Printf("%d work units\n", len(units))

	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func humanizeAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
