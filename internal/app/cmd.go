package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitoshi/digitalcoffee/internal/auth"
	"github.com/hitoshi/digitalcoffee/internal/config"
	"github.com/hitoshi/digitalcoffee/internal/logger"
	"github.com/hitoshi/digitalcoffee/internal/metrics"
	"github.com/hitoshi/digitalcoffee/internal/security"
)

// Command はアプリケーションのサブコマンド名を表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。引数なしの場合もこれになる。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"

	CommandSignUp        Command = "signup"
	CommandSignIn        Command = "signin"
	CommandGoogleSignIn  Command = "google-signin"
	CommandLinkPassword  Command = "link-password"
	CommandProviders     Command = "providers"
	CommandPasswordReset Command = "password-reset"
	CommandSendTestEmail Command = "send-test-email"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// NewRootCommand はdigitalcoffeeのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "digitalcoffee",
		Short:         "Digital Coffee API server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(w)
		},
	}
	root.SetOut(w)

	root.AddCommand(
		newServeCmd(w),
		newWorkerCmd(w),
		newMigrateCmd(w),
		newHealthcheckCmd(),
		newSignUpCmd(),
		newSignInCmd(),
		newGoogleSignInCmd(),
		newLinkPasswordCmd(),
		newProvidersCmd(),
		newPasswordResetCmd(),
		newSendTestEmailCmd(w),
	)
	return root
}

func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return runServe(cfg)
}

func newServeCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(w)
		},
	}
}

func newWorkerCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run background jobs (abandoned session cleanup)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runWorker(cfg)
		},
	}
}

func newMigrateCmd(w io.Writer) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       string(CommandMigrate) + " [up|down|version]",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(MigrateUp), string(MigrateDown), string(MigrateVersion)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := MigrateUp
			if len(args) == 1 {
				direction = MigrateDirection(args[0])
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cmd.OutOrStdout(), cfg.DatabaseURL, direction, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (down only)")
	return cmd
}

func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		// 軽量サブコマンドのため、フル初期化をスキップする
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHealthcheck(healthcheckPort())
		},
	}
}

// loadClient はCLI用の設定を読み込み、ログを標準エラーに出す。
func loadClient(cmd *cobra.Command) (*config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if err := logger.SetupDefault(cmd.ErrOrStderr(), logger.Options{Format: cfg.LogFormat, Level: cfg.LogLevel}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func identityProvider(cmd *cobra.Command) (auth.IdentityProvider, error) {
	cfg, err := loadClient(cmd)
	if err != nil {
		return nil, err
	}
	return newIdentityClient(cfg.Identity, ""), nil
}

func newSignUpCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   string(CommandSignUp),
		Short: "Create an email/password identity (password is read from stdin if omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin(), password, "password")
			if err != nil {
				return err
			}
			provider, err := identityProvider(cmd)
			if err != nil {
				return err
			}
			return runSignUp(cmd.Context(), cmd.OutOrStdout(), provider, email, pw)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignInCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   string(CommandSignIn),
		Short: "Sign in with email/password and print an ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin(), password, "password")
			if err != nil {
				return err
			}
			provider, err := identityProvider(cmd)
			if err != nil {
				return err
			}
			return runSignIn(cmd.Context(), cmd.OutOrStdout(), provider, email, pw)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newGoogleSignInCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   string(CommandGoogleSignIn),
		Short: "Sign in with Google through a loopback redirect and print an ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadClient(cmd)
			if err != nil {
				return err
			}

			listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			if err != nil {
				return fmt.Errorf("failed to listen on loopback: %w", err)
			}
			redirectURI := fmt.Sprintf("http://%s/callback", listener.Addr().String())

			guard := security.NewOutboundGuard()
			exchanger := auth.NewTokenExchanger(auth.GoogleOAuthConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
			}, guard.NewSafeClient(cfg.Identity.Timeout))
			broker := auth.NewBroker(newIdentityClient(cfg.Identity, redirectURI))

			return runGoogleSignIn(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), exchanger, broker, listener)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "loopback port for the OAuth redirect (0 picks a free port)")
	return cmd
}

func newLinkPasswordCmd() *cobra.Command {
	var idToken, email, password string
	cmd := &cobra.Command{
		Use:   string(CommandLinkPassword),
		Short: "Add email/password sign-in to the identity owning the ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin(), password, "password")
			if err != nil {
				return err
			}
			provider, err := identityProvider(cmd)
			if err != nil {
				return err
			}
			return runLinkPassword(cmd.Context(), cmd.OutOrStdout(), provider, idToken, email, pw)
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", os.Getenv("DIGITALCOFFEE_ID_TOKEN"), "ID token of the signed-in identity")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   string(CommandProviders),
		Short: "List sign-in providers linked to the identity owning the ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if idToken == "" {
				return fmt.Errorf("--id-token or DIGITALCOFFEE_ID_TOKEN is required")
			}
			provider, err := identityProvider(cmd)
			if err != nil {
				return err
			}
			return runProviders(cmd.Context(), cmd.OutOrStdout(), provider, idToken)
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", os.Getenv("DIGITALCOFFEE_ID_TOKEN"), "ID token of the signed-in identity")
	return cmd
}

func newPasswordResetCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   string(CommandPasswordReset),
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := identityProvider(cmd)
			if err != nil {
				return err
			}
			return runPasswordReset(cmd.Context(), cmd.OutOrStdout(), provider, email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSendTestEmailCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandSendTestEmail) + " <to>",
		Short: "Send a test email with the configured SMTP settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runSendTestEmail(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	}
}

// runSendTestEmail はテストメールを1通積み、送信し終えるまで待つ。
func runSendTestEmail(ctx context.Context, out io.Writer, cfg *config.Config, to string) error {
	failures := &failureCounter{}
	notifier := newNotifier(cfg, failures)
	notifier.SendTest(to)
	notifier.Close()
	notifier.Run(ctx)

	if failures.count > 0 {
		return fmt.Errorf("failed to send test email to %s", to)
	}
	_, err := fmt.Fprintf(out, "test email sent to %s\n", to)
	return err
}

// failureCounter は送信失敗の回数だけを数えるMetricsCollector。
type failureCounter struct {
	metrics.Nop
	count int
}

func (f *failureCounter) RecordNotificationFailure(string) {
	f.count++
}
