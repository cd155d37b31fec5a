package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/corray333/backend-labs/foodorder/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FOODORDER"

// MustInit loads .env when present, reads config.yaml and installs the
// default logger. Every key can be overridden by FOODORDER_<KEY> with dots
// replaced by underscores, e.g. FOODORDER_MPESA_CONSUMER_KEY.
func MustInit() {
	envErr := godotenv.Load("./.env")
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		panic("error while loading .env file: " + envErr.Error())
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/foodorder-svc")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		panic("error while reading config file: " + err.Error())
	}
	SetupLogger()

	if envErr != nil {
		slog.Info("No .env file found, using process environment")
	}
}

func SetupLogger() {
	handler := logger.NewHandler(&slog.HandlerOptions{
		Level: logger.ParseLevel(viper.GetString("log.level")),
	})
	log := slog.New(handler)
	slog.SetDefault(log)
}
