package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string        `env:"TOKEN,required"`
		DefaultLanguage  string        `env:"LANG,default=en"`
		EnabledHandlers  []string      `env:"HANDLERS,default=recorder,gatekeeper,admin"`
		LogLevel         int           `env:"LOG_LEVEL,default=4"`
		DotPath          string        `env:"DOT_PATH,default=~/.shieldy"`
		DBName           string        `env:"DB_NAME,default=bot.db"`
		MetricsAddr      string        `env:"METRICS_ADDR,default=:2112"`
		MessageLogTTL    time.Duration `env:"MESSAGE_LOG_TTL,default=48h"`
		Gatekeeper       Gatekeeper
		Reputation       Reputation
	}

	Gatekeeper struct {
		SweepInterval    time.Duration `env:"SWEEP_INTERVAL,default=15s"`
		SoftBanDuration  time.Duration `env:"SOFT_BAN_DURATION,default=45s"`
		RestrictDuration time.Duration `env:"RESTRICT_DURATION,default=24h"`
		MaxKickAttempts  int           `env:"MAX_KICK_ATTEMPTS,default=3"`
	}

	Reputation struct {
		CASURL        string        `env:"CAS_URL,default=https://api.cas.chat"`
		ExportRefresh time.Duration `env:"CAS_EXPORT_REFRESH,default=1h"`
		Timeout       time.Duration `env:"CAS_TIMEOUT,default=10s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := LoadFrom(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// LoadFrom processes SHIELDY_ prefixed variables from the given lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("SHIELDY_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	return cfg, nil
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
