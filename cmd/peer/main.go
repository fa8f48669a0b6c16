package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

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
	room = configVar[string]{
		envKey:       "PEER_ROOM",
		flagKey:      "room",
		defaultValue: app.DefaultPeerRoom,
	}
	name = configVar[string]{
		envKey:       "PEER_NAME",
		flagKey:      "name",
		defaultValue: "",
	}
	color = configVar[string]{
		envKey:       "PEER_COLOR",
		flagKey:      "color",
		defaultValue: "",
	}
	listenPort = configVar[int]{
		envKey:       "PEER_LISTEN_PORT",
		flagKey:      "listen-port",
		defaultValue: 0,
	}
	bootstrap = configVar[[]string]{
		envKey:       "PEER_BOOTSTRAP",
		flagKey:      "bootstrap",
		defaultValue: nil,
	}
	relay = configVar[string]{
		envKey:       "PEER_RELAY",
		flagKey:      "relay",
		defaultValue: "",
	}
	logLevel = configVar[string]{
		envKey:       "PEER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "WARN",
	}
	chatLimit = configVar[int]{
		envKey:       "PEER_CHAT_LIMIT",
		flagKey:      "chat-limit",
		defaultValue: 100,
	}
	catalogPath = configVar[string]{
		envKey:       "PEER_CATALOG_PATH",
		flagKey:      "catalog-path",
		defaultValue: "",
	}
)

func loadPeerConfig() *app.PeerConfig {
	pflag.String(room.flagKey, room.defaultValue, "Room to join")
	pflag.String(name.flagKey, name.defaultValue, "Display name, random when empty")
	pflag.String(color.flagKey, color.defaultValue, "Display color, random when empty")
	pflag.Int(listenPort.flagKey, listenPort.defaultValue, "libp2p listen port, random when 0")
	pflag.StringSlice(bootstrap.flagKey, bootstrap.defaultValue, "Peer multiaddrs to connect to")
	pflag.String(relay.flagKey, relay.defaultValue, "Relay websocket URL; joins through the relay instead of the mesh")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Int(chatLimit.flagKey, chatLimit.defaultValue, "Number of chat messages kept")
	pflag.String(catalogPath.flagKey, catalogPath.defaultValue, "YAML track catalog, built-in when empty")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(room.flagKey, room.envKey)
	viper.BindEnv(name.flagKey, name.envKey)
	viper.BindEnv(color.flagKey, color.envKey)
	viper.BindEnv(listenPort.flagKey, listenPort.envKey)
	viper.BindEnv(bootstrap.flagKey, bootstrap.envKey)
	viper.BindEnv(relay.flagKey, relay.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(chatLimit.flagKey, chatLimit.envKey)
	viper.BindEnv(catalogPath.flagKey, catalogPath.envKey)

	viper.SetDefault(room.flagKey, room.defaultValue)
	viper.SetDefault(name.flagKey, name.defaultValue)
	viper.SetDefault(color.flagKey, color.defaultValue)
	viper.SetDefault(listenPort.flagKey, listenPort.defaultValue)
	viper.SetDefault(bootstrap.flagKey, bootstrap.defaultValue)
	viper.SetDefault(relay.flagKey, relay.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(chatLimit.flagKey, chatLimit.defaultValue)
	viper.SetDefault(catalogPath.flagKey, catalogPath.defaultValue)

	return &app.PeerConfig{
		Room:        viper.GetString(room.flagKey),
		Name:        viper.GetString(name.flagKey),
		Color:       viper.GetString(color.flagKey),
		ListenPort:  viper.GetInt(listenPort.flagKey),
		Bootstrap:   viper.GetStringSlice(bootstrap.flagKey),
		Relay:       viper.GetString(relay.flagKey),
		LogLevel:    viper.GetString(logLevel.flagKey),
		ChatLimit:   viper.GetInt(chatLimit.flagKey),
		CatalogPath: viper.GetString(catalogPath.flagKey),
	}
}

func main() {
	peerConfig := loadPeerConfig()

	jsonConfig, _ := json.MarshalIndent(peerConfig, "", "  ")
	fmt.Fprintf(os.Stderr, "starting peer with config: %s\n", jsonConfig)

	if err := app.RunPeer(context.Background(), peerConfig, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
