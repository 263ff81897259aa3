package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/damoang/angple-social/internal/config"
	"github.com/damoang/angple-social/internal/database"
	"github.com/damoang/angple-social/internal/repository"
	"github.com/damoang/angple-social/internal/service"
	"github.com/damoang/angple-social/pkg/jwt"
	pkglogger "github.com/damoang/angple-social/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type globalOptions struct {
	configPath string
}

func NewChatctlCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Operations tool for the chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			config.LoadDotEnv()
			pkglogger.InitStructured(config.Env())
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file path (default: configs/config.<APP_ENV>.yaml)")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newSweepCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

func (o *globalOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

func (o *globalOptions) openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var withUsers bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat tables",
		Args:  cobra.NoArgs,
		Example: `  chatctl migrate
  chatctl migrate --with-users`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := opts.openDB()
			if err != nil {
				return err
			}
			if err := database.Migrate(db, withUsers || cfg.IsDevelopment()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withUsers, "with-users", false,
		"Also create the users table (normally owned by the account service)")
	return cmd
}

func newSweepCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass and delete expired messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := opts.openDB()
			if err != nil {
				return err
			}
			messages := service.NewMessageService(repository.NewMessageRepository(db), nil, service.MessagePolicy{
				EditWindow:    cfg.Chat.EditWindow,
				Retention:     cfg.Chat.Retention,
				MaxBodyLength: cfg.Chat.MaxBodyLength,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := messages.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d messages older than %s\n", n, cfg.Chat.Retention)
			return nil
		},
	}
}

func newTokenCommand(opts *globalOptions) *cobra.Command {
	var nickname string

	cmd := &cobra.Command{
		Use:     "token <userID>",
		Short:   "Issue an access token for local testing",
		Args:    cobra.ExactArgs(1),
		Example: `  chatctl token alice --nickname Alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			manager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn, cfg.JWT.RefreshIn)
			token, err := manager.GenerateAccessToken(args[0], nickname, 1)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname claim")
	return cmd
}

func main() {
	if err := NewChatctlCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
