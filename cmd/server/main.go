package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchsync/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

func (v configVar[T]) bind() {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	registry = configVar[string]{
		envKey:       "SERVER_REGISTRY",
		flagKey:      "registry",
		defaultValue: app.RegistryMemory,
	}
	sessionTTL = configVar[time.Duration]{
		envKey:       "SERVER_SESSION_TTL",
		flagKey:      "session-ttl",
		defaultValue: 14 * 24 * time.Hour,
	}
	orphanSessionTTL = configVar[time.Duration]{
		envKey:       "SERVER_ORPHAN_SESSION_TTL",
		flagKey:      "orphan-session-ttl",
		defaultValue: 5 * time.Minute,
	}
	sendBufferSize = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER_SIZE",
		flagKey:      "send-buffer-size",
		defaultValue: 256,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	redisDB = configVar[int]{
		envKey:       "REDIS_DB",
		flagKey:      "redis-db",
		defaultValue: 0,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(registry.flagKey, registry.defaultValue, "Session registry backend (memory or redis)")
	pflag.Duration(sessionTTL.flagKey, sessionTTL.defaultValue, "Expiry of idle sessions in the redis registry")
	pflag.Duration(orphanSessionTTL.flagKey, orphanSessionTTL.defaultValue, "How long a created session may stay without members, 0 disables")
	pflag.Int(sendBufferSize.flagKey, sendBufferSize.defaultValue, "Outbound messages buffered per connection")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Int(redisDB.flagKey, redisDB.defaultValue, "Redis database number")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	port.bind()
	host.bind()
	logLevel.bind()
	registry.bind()
	sessionTTL.bind()
	orphanSessionTTL.bind()
	sendBufferSize.bind()
	redisPort.bind()
	redisHost.bind()
	redisPassword.bind()
	redisDB.bind()

	config := &app.AppConfig{
		Host:             viper.GetString(host.flagKey),
		Port:             viper.GetInt(port.flagKey),
		LogLevel:         viper.GetString(logLevel.flagKey),
		Registry:         viper.GetString(registry.flagKey),
		SessionTTL:       viper.GetDuration(sessionTTL.flagKey),
		OrphanSessionTTL: viper.GetDuration(orphanSessionTTL.flagKey),
		SendBufferSize:   viper.GetInt(sendBufferSize.flagKey),
		RedisPort:        viper.GetInt(redisPort.flagKey),
		RedisHost:        viper.GetString(redisHost.flagKey),
		RedisPassword:    viper.GetString(redisPassword.flagKey),
		RedisDB:          viper.GetInt(redisDB.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("could not load .env file: %v", err)
	}

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
