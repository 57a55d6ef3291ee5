package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/auth"
	"github.com/suPer8Hu/sportlens/internal/config"
	"github.com/suPer8Hu/sportlens/internal/logger"
)

var (
	accessToken  string
	refreshToken string
)

var rootCmd = &cobra.Command{
	Use:          "sportlens",
	Short:        "local-first chat and analysis task cache",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accessToken, "token", os.Getenv("SPORTLENS_TOKEN"), "access token to act as (default $SPORTLENS_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&refreshToken, "refresh-token", "", "refresh token for --token")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads .env and config, then builds the app.
func bootstrap(ctx context.Context, opts app.Options) (*app.App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, lg, opts)
}

// flagSession parses --token. ok is false when no token was given.
func flagSession(a *app.App) (*auth.Session, bool, error) {
	if accessToken == "" {
		return nil, false, nil
	}
	sess, err := auth.SessionFromToken(accessToken, refreshToken, a.Cfg.JWTSecret)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}
