// Command tool provisions virtual keys against the shared postgres
// instance: create, revoke and list. The proxy only ever reads keys.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kubellm/kubellm/internal/config"
	"github.com/kubellm/kubellm/internal/key"
	logger "github.com/kubellm/kubellm/internal/logger/zap"
	"github.com/kubellm/kubellm/internal/manager"
	"github.com/kubellm/kubellm/internal/storage/postgresql"
)

func main() {
	action := flag.String("action", "list", "create, revoke or list virtual keys")
	name := flag.String("name", "", "name of the key to create")
	owner := flag.String("owner", "", "owner id of the key to create")
	ttl := flag.String("ttl", "", "ttl of the key to create, e.g. 720h")
	costLimit := flag.Float64("cost-limit", 0, "lifetime cost limit in usd, 0 for unlimited")
	costLimitOverTime := flag.Float64("cost-limit-over-time", 0, "windowed cost limit in usd, 0 for unlimited")
	costLimitUnit := flag.String("cost-limit-unit", "", "window unit for the cost limit: s, m, h, d or mo")
	rateLimit := flag.Int("rate-limit", 0, "windowed request limit, 0 for unlimited")
	rateLimitUnit := flag.String("rate-limit-unit", "", "window unit for the rate limit: s, m, h, d or mo")
	keyId := flag.String("key-id", "", "id of the key to revoke")
	reason := flag.String("reason", "revoked by operator", "reason recorded on revocation")
	flag.Parse()

	godotenv.Load()

	lg := logger.NewLogger("dev")
	defer lg.Sync()

	cfg, err := config.ParseEnvVariables()
	if err != nil {
		lg.Sugar().Fatalf("cannot parse environment variables: %v", err)
	}

	sslModeSuffix := ""
	if !cfg.PostgresqlSslEnabled {
		sslModeSuffix = "?sslmode=disable"
	}

	store, err := postgresql.NewStore(
		fmt.Sprintf("postgresql://%s:%s@%s:%s/%s%s", cfg.PostgresqlUsername, cfg.PostgresqlPassword, cfg.PostgresqlHosts, cfg.PostgresqlPort, cfg.PostgresqlDbName, sslModeSuffix),
		lg,
		cfg.PostgresqlWriteTimeout,
		cfg.PostgresqlReadTimeout,
	)
	if err != nil {
		lg.Sugar().Fatalf("cannot connect to postgresql: %v", err)
	}
	defer store.Close()

	if err := store.CreateKeysTable(); err != nil {
		lg.Sugar().Fatalf("error creating keys table: %v", err)
	}

	if err := store.CreateKeyIndexForKeysTable(); err != nil {
		lg.Sugar().Fatalf("error creating keys table index: %v", err)
	}

	m := manager.NewManager(store)

	switch *action {
	case "create":
		created, err := m.CreateKey(&key.VirtualKey{
			Name:                   *name,
			OwnerId:                *owner,
			Ttl:                    *ttl,
			CostLimitInUsd:         *costLimit,
			CostLimitInUsdOverTime: *costLimitOverTime,
			CostLimitInUsdUnit:     key.TimeUnit(*costLimitUnit),
			RateLimitOverTime:      *rateLimit,
			RateLimitUnit:          key.TimeUnit(*rateLimitUnit),
		})
		if err != nil {
			lg.Sugar().Fatalf("cannot create key: %v", err)
		}

		fmt.Printf("created key %s\n", created.Key.KeyId)
		fmt.Printf("secret (shown once): %s\n", created.Secret)

	case "revoke":
		if len(*keyId) == 0 {
			lg.Sugar().Fatal("-key-id is required for revoke")
		}

		revoked, err := m.RevokeKey(*keyId, *reason)
		if err != nil {
			lg.Sugar().Fatalf("cannot revoke key: %v", err)
		}

		fmt.Printf("revoked key %s\n", revoked.KeyId)

	case "list":
		keys, err := m.GetKeys()
		if err != nil {
			lg.Sugar().Fatalf("cannot list keys: %v", err)
		}

		for _, k := range keys {
			status := "active"
			if k.Revoked {
				status = "revoked"
			} else if k.Expired() {
				status = "expired"
			}

			fmt.Printf("%s  %-20s  %-8s  owner=%s\n", k.KeyId, k.Name, status, k.OwnerId)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %s\n", *action)
		os.Exit(1)
	}
}
