package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/syncbeats/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 3000,
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
	membersLimit = configVar[int]{
		envKey:       "SERVER_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 20,
	}
	chatLimit = configVar[int]{
		envKey:       "SERVER_CHAT_LIMIT",
		flagKey:      "chat-limit",
		defaultValue: 100,
	}
	controlMode = configVar[string]{
		envKey:       "SERVER_CONTROL_MODE",
		flagKey:      "control-mode",
		defaultValue: "open",
	}
	hostPolicy = configVar[string]{
		envKey:       "SERVER_HOST_POLICY",
		flagKey:      "host-policy",
		defaultValue: "transfer",
	}
	driftThreshold = configVar[time.Duration]{
		envKey:       "SERVER_DRIFT_THRESHOLD",
		flagKey:      "drift-threshold",
		defaultValue: 2 * time.Second,
	}
	storage = configVar[string]{
		envKey:       "SERVER_STORAGE",
		flagKey:      "storage",
		defaultValue: app.StorageMemory,
	}
	catalogPath = configVar[string]{
		envKey:       "SERVER_CATALOG_PATH",
		flagKey:      "catalog-path",
		defaultValue: "",
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
)

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Int(membersLimit.flagKey, membersLimit.defaultValue, "Maximum number of members in the room")
	pflag.Int(chatLimit.flagKey, chatLimit.defaultValue, "Number of chat messages kept per room")
	pflag.String(controlMode.flagKey, controlMode.defaultValue, "Who may drive playback: open or host-only")
	pflag.String(hostPolicy.flagKey, hostPolicy.defaultValue, "What happens when the host leaves: transfer or teardown")
	pflag.Duration(driftThreshold.flagKey, driftThreshold.defaultValue, "Tolerated playback drift")
	pflag.String(storage.flagKey, storage.defaultValue, "Room storage: memory or redis")
	pflag.String(catalogPath.flagKey, catalogPath.defaultValue, "YAML track catalog, built-in when empty")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	// PORT is what most hosting platforms set.
	viper.BindEnv(port.flagKey, port.envKey, "PORT")
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(membersLimit.flagKey, membersLimit.envKey)
	viper.BindEnv(chatLimit.flagKey, chatLimit.envKey)
	viper.BindEnv(controlMode.flagKey, controlMode.envKey)
	viper.BindEnv(hostPolicy.flagKey, hostPolicy.envKey)
	viper.BindEnv(driftThreshold.flagKey, driftThreshold.envKey)
	viper.BindEnv(storage.flagKey, storage.envKey)
	viper.BindEnv(catalogPath.flagKey, catalogPath.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)

	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(membersLimit.flagKey, membersLimit.defaultValue)
	viper.SetDefault(chatLimit.flagKey, chatLimit.defaultValue)
	viper.SetDefault(controlMode.flagKey, controlMode.defaultValue)
	viper.SetDefault(hostPolicy.flagKey, hostPolicy.defaultValue)
	viper.SetDefault(driftThreshold.flagKey, driftThreshold.defaultValue)
	viper.SetDefault(storage.flagKey, storage.defaultValue)
	viper.SetDefault(catalogPath.flagKey, catalogPath.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)

	config := &app.AppConfig{
		Host:           viper.GetString(host.flagKey),
		Port:           viper.GetInt(port.flagKey),
		LogLevel:       viper.GetString(logLevel.flagKey),
		MembersLimit:   viper.GetInt(membersLimit.flagKey),
		ChatLimit:      viper.GetInt(chatLimit.flagKey),
		ControlMode:    viper.GetString(controlMode.flagKey),
		HostPolicy:     viper.GetString(hostPolicy.flagKey),
		DriftThreshold: viper.GetDuration(driftThreshold.flagKey),
		Storage:        viper.GetString(storage.flagKey),
		CatalogPath:    viper.GetString(catalogPath.flagKey),
		RedisPort:      viper.GetInt(redisPort.flagKey),
		RedisHost:      viper.GetString(redisHost.flagKey),
		RedisPassword:  viper.GetString(redisPassword.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
