package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	auth "github.com/kubellm/kubellm/internal/authenticator"
	"github.com/kubellm/kubellm/internal/config"
	"github.com/kubellm/kubellm/internal/guard"
	"github.com/kubellm/kubellm/internal/ledger"
	logger "github.com/kubellm/kubellm/internal/logger/zap"
	"github.com/kubellm/kubellm/internal/provider"
	"github.com/kubellm/kubellm/internal/provider/anthropic"
	"github.com/kubellm/kubellm/internal/provider/azure"
	"github.com/kubellm/kubellm/internal/provider/openai"
	"github.com/kubellm/kubellm/internal/registry"
	"github.com/kubellm/kubellm/internal/router"
	"github.com/kubellm/kubellm/internal/server/web"
	"github.com/kubellm/kubellm/internal/storage/memdb"
	"github.com/kubellm/kubellm/internal/storage/postgresql"
	redisStorage "github.com/kubellm/kubellm/internal/storage/redis"
	"github.com/kubellm/kubellm/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// claudeTokenCounter adapts the claude counter to the model aware
// signature the routing engine expects.
type claudeTokenCounter struct {
	tc *anthropic.TokenCounter
}

func (c *claudeTokenCounter) Count(model string, input string) (int, error) {
	return c.tc.Count(input), nil
}

func main() {
	modePtr := flag.String("m", "dev", "select the mode that kubellm runs in")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded environment variables from .env")
	}

	lg := logger.NewLogger(*modePtr)
	defer lg.Sync()

	cfg, err := config.ParseEnvVariables()
	if err != nil {
		lg.Sugar().Fatalf("cannot parse environment variables: %v", err)
	}

	if err := telemetry.Init(cfg); err != nil {
		lg.Sugar().Fatalf("cannot initialize telemetry: %v", err)
	}

	if cfg.OpenTelemetryEnabled {
		shutdown, err := telemetry.SetupOTelSDK(context.Background(), cfg)
		if err != nil {
			lg.Sugar().Fatalf("cannot set up opentelemetry sdk: %v", err)
		}

		defer shutdown(context.Background())
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

	if err := store.CreateKeysTable(); err != nil {
		lg.Sugar().Fatalf("error creating keys table: %v", err)
	}

	if err := store.CreateKeyIndexForKeysTable(); err != nil {
		lg.Sugar().Fatalf("error creating keys table index: %v", err)
	}

	if err := store.CreateUsageEventsTable(); err != nil {
		lg.Sugar().Fatalf("error creating usage events table: %v", err)
	}

	if err := store.CreateKeyIdIndexForUsageEventsTable(); err != nil {
		lg.Sugar().Fatalf("error creating key id index for usage events table: %v", err)
	}

	if err := store.CreateTimeStampIndexForUsageEventsTable(); err != nil {
		lg.Sugar().Fatalf("error creating timestamp index for usage events table: %v", err)
	}

	memStore, err := memdb.NewMemDb(store, lg, cfg.InMemoryDbUpdateInterval)
	if err != nil {
		lg.Sugar().Fatalf("cannot initialize memdb: %v", err)
	}

	memStore.Listen()

	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHosts, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		lg.Sugar().Fatalf("error connecting to redis: %v", err)
	}

	rc := redisStorage.NewCache(c, cfg.RedisWriteTimeout, cfg.RedisReadTimeout)
	rs := redisStorage.NewStore(c, cfg.RedisWriteTimeout, cfg.RedisReadTimeout)

	l := ledger.NewLedger(store, rc, rs, lg, cfg.LedgerBufferSize)
	l.Listen()

	g := guard.NewGuard(l, lg, cfg.RequestTimeout+time.Minute, cfg.ReservationSweepInterval)
	g.Listen()

	an := auth.NewAuthenticator(memStore, store)

	openaiAdapter := openai.NewAdapter()
	adapters := map[string]provider.Adapter{
		openai.ProviderName:    openaiAdapter,
		azure.ProviderName:     azure.NewAdapter(),
		anthropic.ProviderName: anthropic.NewAdapter(),
	}

	reg, err := registry.NewRegistry(cfg.ProviderConfigPath, adapters, lg)
	if err != nil {
		lg.Sugar().Fatalf("cannot load provider config: %v", err)
	}

	if err := reg.Listen(); err != nil {
		lg.Sugar().Fatalf("cannot watch provider config: %v", err)
	}

	tc, err := openai.NewTokenCounter()
	if err != nil {
		lg.Sugar().Fatalf("error creating token counter: %v", err)
	}

	atc, err := anthropic.NewTokenCounter()
	if err != nil {
		lg.Sugar().Fatalf("error creating claude token counter: %v", err)
	}

	counters := map[string]router.TokenCounter{
		openai.ProviderName:    tc,
		azure.ProviderName:     tc,
		anthropic.ProviderName: &claudeTokenCounter{tc: atc},
	}

	estimators := map[string]router.CostEstimator{
		openai.ProviderName:    openai.NewCostEstimator(),
		azure.ProviderName:     azure.NewCostEstimator(),
		anthropic.ProviderName: anthropic.NewCostEstimator(atc),
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
		},
	}

	rt := router.NewRouter(an, reg, g, l, client, counters, estimators, router.Timeouts{
		Admission: cfg.AdmissionTimeout,
		Request:   cfg.RequestTimeout,
	}, cfg.DefaultCompletionTokens)

	ps, err := web.NewProxyServer(lg, *modePtr, rt, reg, cfg.ProxyPort)
	if err != nil {
		lg.Sugar().Fatalf("error creating proxy http server: %v", err)
	}

	ps.Run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Sugar().Infof("shutting down server...")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := ps.Shutdown(sctx); err != nil {
		lg.Sugar().Debugf("proxy server shutdown: %v", err)
	}

	reg.Stop()
	g.Stop()
	l.Stop()
	memStore.Stop()

	if err := store.Close(); err != nil {
		lg.Sugar().Debugf("error closing postgresql store: %v", err)
	}

	lg.Sugar().Infof("server exited")
}
