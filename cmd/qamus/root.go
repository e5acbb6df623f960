package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qamuslabs/qamus"
	"github.com/qamuslabs/qamus/internal/remote"
)

var (
	cfgDBPath    string
	cfgRemoteURL string
	cfgAPIKey    string
	cfgUserID    string
)

var rootCmd = &cobra.Command{
	Use:   "qamus",
	Short: "Qamus - Arabic dictionary offline-sync CLI",
	Long: `Qamus manages the local dictionary store used by the Qamus app.

It can download the full dictionary for offline use, search entries,
manage favorites, and inspect entitlement and store state.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to local dictionary database")
	rootCmd.PersistentFlags().StringVar(&cfgRemoteURL, "remote-url", "", "Base URL of the remote store REST API")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for the remote store")
	rootCmd.PersistentFlags().StringVar(&cfgUserID, "user", "", "Authenticated user id")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig layers flags over environment over an optional config
// file at ~/.qamus/config.yaml.
func loadConfig() qamus.Config {
	v := viper.New()
	v.SetEnvPrefix("QAMUS")
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".qamus"))
		_ = v.ReadInConfig() // optional
	}

	cfg := qamus.DefaultConfig()

	if s := v.GetString("db_path"); s != "" {
		cfg.DBPath = s
	}
	if s := v.GetString("remote_url"); s != "" {
		cfg.RemoteURL = s
	}
	if s := v.GetString("api_key"); s != "" {
		cfg.APIKey = s
	}
	if s := v.GetString("product_id"); s != "" {
		cfg.ProductID = s
	}
	cfg.Debug = v.GetBool("debug")

	if cfgDBPath != "" {
		cfg.DBPath = cfgDBPath
	}
	if cfgRemoteURL != "" {
		cfg.RemoteURL = cfgRemoteURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}

	return cfg
}

func currentUserID() string {
	if cfgUserID != "" {
		return cfgUserID
	}
	return os.Getenv("QAMUS_USER_ID")
}

// newClient wires the library with the CLI's gateway and identity.
func newClient() (*qamus.Client, error) {
	cfg := loadConfig()

	deps := qamus.Dependencies{
		Identity: cliIdentity{userID: currentUserID()},
	}
	if cfg.RemoteURL != "" {
		deps.Gateway = remote.NewGateway(remote.Options{
			BaseURL:       cfg.RemoteURL,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.HTTPTimeout,
			RetryAttempts: cfg.RetryAttempts,
			Logger:        cfg.Logger,
			Debug:         cfg.Debug,
		})
	}

	return qamus.New(cfg, deps)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// cliIdentity is a fixed-user identity for command-line use. Session
// management belongs to the app, not this tool.
type cliIdentity struct {
	userID string
}

func (i cliIdentity) CurrentUserID() string { return i.userID }

func (cliIdentity) SignIn(context.Context, string, string) error {
	return errUnsupported("sign-in")
}

func (cliIdentity) SignUp(context.Context, string, string) error {
	return errUnsupported("sign-up")
}

func (cliIdentity) SignOut(context.Context) error { return nil }

func (cliIdentity) DeleteAccount(context.Context) error {
	return errUnsupported("delete-account")
}

func errUnsupported(op string) error {
	return fmt.Errorf("%s is not supported from the CLI", op)
}
