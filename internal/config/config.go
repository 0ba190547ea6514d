package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cardhaus/cartsync/internal/log"
)

type Application struct {
	Env  string `mapstructure:"env"  json:"env"`
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

type Cache struct {
	Host     string `mapstructure:"host"     json:"host"`
	Password string `mapstructure:"password" json:"password"`
	Database int    `mapstructure:"database" json:"database"`
	Port     uint16 `mapstructure:"port"     json:"port"`
}

type Catalog struct {
	BaseUrl string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"  json:"timeout"`
}

type Cart struct {
	StorageKey      string        `mapstructure:"storage_key"      json:"storage_key"`
	ChannelName     string        `mapstructure:"channel_name"     json:"channel_name"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"   json:"sweep_interval"`
	ExpiryWindow    time.Duration `mapstructure:"expiry_window"    json:"expiry_window"`
	DriftThreshold  float64       `mapstructure:"drift_threshold"  json:"drift_threshold"`
	NotificationTTL time.Duration `mapstructure:"notification_ttl" json:"notification_ttl"`
}

type Otel struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

type Config struct {
	Cache       `mapstructure:"cache"       json:"cache"`
	Catalog     `mapstructure:"catalog"     json:"catalog"`
	Cart        `mapstructure:"cart"        json:"cart"`
	Application `mapstructure:"application" json:"application"`
	Otel        `mapstructure:"otel"        json:"otel"`
}

var (
	once   sync.Once
	config *Config
)

func Get(c context.Context, filename string) *Config {
	cfg := Config{}
	once.Do(func() {
		logger := zerolog.Ctx(c).
			With().
			Str(log.KEY_TAG, "main InitConfig").
			Str(log.KEY_PROCESS, "init config").
			Str("filename", filename).
			Logger()

		viper.SetConfigName(filename)
		viper.AddConfigPath("./env")
		viper.SetConfigType("yaml")
		viper.AutomaticEnv()

		viper.SetDefault("cart.storage_key", "cardhaus-cart")
		viper.SetDefault("cart.channel_name", "cardhaus-cart-sync")
		viper.SetDefault("cart.sweep_interval", 5*time.Minute)
		viper.SetDefault("cart.expiry_window", 7*24*time.Hour)
		viper.SetDefault("cart.drift_threshold", 0.05)
		viper.SetDefault("cart.notification_ttl", 5*time.Second)
		viper.SetDefault("catalog.timeout", 10*time.Second)

		logger = logger.With().Str(log.KEY_PROCESS, "reading config").Logger()
		logger.Info().Msg("reading config")
		err := viper.ReadInConfig()
		if err != nil {
			err = fmt.Errorf("error when reading config with error=%w", err)
			logger.Fatal().Err(err).Msg(err.Error())
		}
		logger.Info().Msg("read config")

		logger = logger.With().Str(log.KEY_PROCESS, "unmarshaling config").Logger()
		logger.Info().Msg("unmarshaling config")
		err = viper.Unmarshal(&cfg)
		if err != nil {
			err = fmt.Errorf("error unmarshaling config with error=%w", err)
			logger.Fatal().Err(err).Msg(err.Error())
		}
		config = &cfg
		logger = logger.With().Any(log.KEY_CONFIG, cfg).Logger()
		logger.Info().Msg("unmarshaled config")
	})
	return config
}
