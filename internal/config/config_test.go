package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MININGCORE_API_URL", "SIGSCORE_API_URL", "REDIS_URL", "RABBITMQ_URL", "MINER_ADDRESS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func withURLs() *viper.Viper {
	v := viper.New()
	v.Set("api.miningcore_url", "http://pool.example/api/pools/ErgoSigmanauts")
	v.Set("api.sigscore_url", "http://pool.example/sigscore")
	return v
}

func TestFromViper_MissingURLs(t *testing.T) {
	clearEnv(t)

	_, err := FromViper(viper.New())
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingError, got %v", err)
	}
	if len(missing.Keys) != 2 || missing.Keys[0] != "api.miningcore_url" || missing.Keys[1] != "api.sigscore_url" {
		t.Fatalf("missing keys=%v", missing.Keys)
	}

	v := viper.New()
	v.Set("api.miningcore_url", "http://pool.example")
	v.Set("api.sigscore_url", "   ")
	_, err = FromViper(v)
	if !errors.As(err, &missing) || len(missing.Keys) != 1 || missing.Keys[0] != "api.sigscore_url" {
		t.Fatalf("blank sigscore url should be missing, got %v", err)
	}
}

func TestFromViper_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromViper(withURLs())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Fatalf("api timeout=%s", cfg.API.Timeout)
	}
	if cfg.Refresh.Interval != 10*time.Second || cfg.Refresh.LeaderboardInterval != time.Minute {
		t.Fatalf("refresh=%+v", cfg.Refresh)
	}
	if cfg.Refresh.LeaderboardSize != 10 {
		t.Fatalf("leaderboard size=%d", cfg.Refresh.LeaderboardSize)
	}
	if cfg.Dashboard.StratumPort != 3052 || cfg.Dashboard.PoolFeePercent != 1 {
		t.Fatalf("dashboard=%+v", cfg.Dashboard)
	}
	if cfg.Redis.URL != "" || cfg.RabbitMQ.Exchange != "sharkpool.events" {
		t.Fatalf("redis=%+v rabbitmq=%+v", cfg.Redis, cfg.RabbitMQ)
	}
}

func TestFromViper_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MININGCORE_API_URL", "http://env.example/miningcore")
	t.Setenv("SIGSCORE_API_URL", "http://env.example/sigscore")
	t.Setenv("MINER_ADDRESS", "9fenv")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.API.MiningcoreURL != "http://env.example/miningcore" || cfg.API.SigscoreURL != "http://env.example/sigscore" {
		t.Fatalf("api=%+v", cfg.API)
	}
	if cfg.Dashboard.DefaultAddress != "9fenv" || cfg.Logging.Level != "debug" {
		t.Fatalf("dashboard address=%q log level=%q", cfg.Dashboard.DefaultAddress, cfg.Logging.Level)
	}
}

func TestValidate_DerivedValues(t *testing.T) {
	clearEnv(t)

	v := withURLs()
	v.Set("refresh.interval", "5s")
	v.Set("refresh.leaderboard_interval", "0s")
	v.Set("refresh.max_staleness", "0s")
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.Refresh.LeaderboardInterval != 5*time.Second {
		t.Fatalf("leaderboard interval=%s", cfg.Refresh.LeaderboardInterval)
	}
	if cfg.Refresh.MaxStaleness != 15*time.Second {
		t.Fatalf("max staleness=%s", cfg.Refresh.MaxStaleness)
	}

	v = withURLs()
	v.Set("api.timeout", "0s")
	if _, err := FromViper(v); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}
