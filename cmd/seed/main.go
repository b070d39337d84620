package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dereva-billing/internal/config"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/infra/api"
	pg "dereva-billing/internal/infra/db/postgres"
	"dereva-billing/internal/infra/logging"
)

// seed creates demo users and, with -admin-token, prints a token for /admin routes.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	users := flag.String("users", "demo-user:0712345678:Demo Learner", "comma separated id:phone:name triples")
	mint := flag.Bool("admin-token", false, "print an admin JWT signed with admin.jwt_secret")
	ttl := flag.Duration("admin-ttl", 24*time.Hour, "admin token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	repo := pg.NewUserRepo(pool)
	for _, entry := range strings.Split(*users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			logger.Fatal().Str("user", entry).Msg("expected id:phone[:name]")
		}
		name := parts[0]
		if len(parts) == 3 {
			name = parts[2]
		}
		phone := model.NormalizePhoneWithCode(parts[1], cfg.Mpesa.CountryCode)
		if !model.IsValidKenyanPhone(phone) {
			logger.Fatal().Str("phone", parts[1]).Msg("invalid phone")
		}
		if err := repo.Upsert(ctx, nil, parts[0], phone, name); err != nil {
			logger.Fatal().Err(err).Str("user", parts[0]).Msg("seed user")
		}
		logger.Info().Str("user", parts[0]).Str("phone", phone).Msg("seeded")
	}

	if *mint {
		tok, err := api.NewAdminAuth(cfg.Admin.JWTSecret).Mint("seed", *ttl)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint admin token")
		}
		fmt.Println(tok)
	}
}
