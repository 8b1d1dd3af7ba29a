package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/wre314954-sudo/wirenew/gen/docs/swagger"
	"github.com/wre314954-sudo/wirenew/internal/infra/app"
	"github.com/wre314954-sudo/wirenew/internal/infra/config"
)

// @title Storefront Auth API
// @version 1.0
// @description Customer signup, verification and login plus the admin console session and store API relay.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Admin bearer credential, sent as "Bearer <token>".

//go:generate swag init -g cmd/api/main.go -d ../../ -o ../../gen/docs/swagger

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("application stopped: %v", err)
		os.Exit(1)
	}
}
