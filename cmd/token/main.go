// Command token prints a signed access token for local testing.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/aman-churiwal/healthgate/internal/config"
	"github.com/aman-churiwal/healthgate/internal/logger"
	"github.com/aman-churiwal/healthgate/internal/service"
	"go.uber.org/zap"
)

func main() {
	userID := flag.String("user", "", "user id (required)")
	email := flag.String("email", "", "email claim")
	role := flag.String("role", "user", "role claim, e.g. admin")
	expiry := flag.Duration("expiry", time.Hour, "token lifetime")
	flag.Parse()

	log := logger.Init("development", "info", "console")
	defer logger.Sync()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	token, err := service.NewTokenService(cfg.Auth.JWTSecret, *expiry).Issue(*userID, *email, *role)
	if err != nil {
		log.Fatal("failed to issue token", zap.Error(err))
	}

	fmt.Println(token)
}
