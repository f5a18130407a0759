package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"mailagent-go/internal/app"
	"mailagent-go/internal/config"
	"mailagent-go/internal/credential"
	"mailagent-go/internal/provider/gmail"
)

// version is set via ldflags at build time.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailagent",
		Short:         "AI-assisted mailbox enrichment service",
		Long:          "MailAgent syncs a Gmail or IMAP mailbox, classifies and summarizes new mail with a local LLM and drafts replies.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}
}

// withApp loads the configuration, builds the components and releases them
// once fn returns.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, closeLog, err := app.LoadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.Build(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func newSyncCmd() *cobra.Command {
	var (
		maxResults int
		historical bool
		daysBack   int
		noClassify bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxResults < 0 || maxResults > 100 {
				return fmt.Errorf("--max must be between 1 and 100")
			}
			if historical && (daysBack < 1 || daysBack > 365) {
				return fmt.Errorf("--days must be between 1 and 365")
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				classify := !noClassify
				if historical {
					res, err := a.Syncer.SyncHistorical(cmd.Context(), daysBack, classify)
					if res != nil {
						_ = printJSON(cmd.OutOrStdout(), res)
					}
					return err
				}
				res, err := a.Syncer.SyncRecent(cmd.Context(), maxResults, classify)
				if res != nil {
					_ = printJSON(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}

	cmd.Flags().IntVar(&maxResults, "max", 0, "maximum number of unread messages to fetch (default from config)")
	cmd.Flags().BoolVar(&historical, "historical", false, "page through every message of the last --days days")
	cmd.Flags().IntVar(&daysBack, "days", 30, "days to look back in historical mode")
	cmd.Flags().BoolVar(&noClassify, "no-classify", false, "store messages without enrichment")
	return cmd
}

type statusReport struct {
	Status         string   `json:"status"`
	GmailConnected bool     `json:"gmail_connected"`
	LLMConnected   bool     `json:"llm_connected"`
	Model          string   `json:"model,omitempty"`
	StoredEmails   int64    `json:"stored_emails"`
	UnreadEmails   int64    `json:"unread_emails"`
	Errors         []string `json:"errors,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the mail provider, the LLM endpoint and the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
				defer cancel()

				report := statusReport{}
				if err := a.Provider.Authenticate(ctx); err != nil {
					report.Errors = append(report.Errors, "mail provider: "+err.Error())
				} else {
					report.GmailConnected = true
				}
				if model, err := a.LLM.VerifyConnection(ctx); err != nil {
					report.Errors = append(report.Errors, "llm: "+err.Error())
				} else {
					report.LLMConnected = true
					report.Model = model
				}
				if stats, err := a.Store.Stats(ctx); err != nil {
					report.Errors = append(report.Errors, "store: "+err.Error())
				} else {
					report.StoredEmails = stats.Total
					report.UnreadEmails = stats.Unread
				}

				switch {
				case report.GmailConnected && report.LLMConnected:
					report.Status = "ok"
				case report.GmailConnected || report.LLMConnected:
					report.Status = "degraded"
				default:
					report.Status = "error"
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		redirectURL string
		printToken  bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Authorize Gmail access and store the refresh token in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Gmail.ClientID == "" || cfg.Gmail.ClientSecret == "" {
				return fmt.Errorf("set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET first")
			}

			oauthCfg := gmail.OAuthConfig(cfg.Gmail, redirectURL)
			tok, err := exchangeCode(cmd.Context(), oauthCfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if err := credential.NewTokenStore().SaveToken(cfg.Gmail.UserEmail, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nRefresh token saved to the keyring for %q. Set GMAIL_USE_KEYRING=true to use it.\n", cfg.Gmail.UserEmail)
			if printToken {
				fmt.Fprintf(cmd.OutOrStdout(), "export GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	cmd.Flags().BoolVar(&printToken, "print", false, "also print the refresh token")
	return cmd
}

func exchangeCode(ctx context.Context, oauthCfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Go to the following link in your browser:\n%v\n", authURL)
	fmt.Fprintln(out, "\nAfter authorization you will be redirected. Copy the 'code' parameter from that URL.")
	fmt.Fprint(out, "\nEnter the authorization code: ")

	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	tok, err := oauthCfg.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token returned; revoke the app's access and retry")
	}
	return tok, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
