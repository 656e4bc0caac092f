// Package config loads settings from flags, CASTROOM_* environment
// variables and an optional castroom.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "CASTROOM"
	ConfigName = "castroom"
)

type Server struct {
	Listen            string        `mapstructure:"listen"`
	LogLevel          string        `mapstructure:"log-level"`
	LogFormat         string        `mapstructure:"log-format"`
	StaticDir         string        `mapstructure:"static-dir"`
	AllowedOrigins    []string      `mapstructure:"allowed-origins"`
	MaxMessageBytes   int64         `mapstructure:"max-message-bytes"`
	MessagesPerSecond float64       `mapstructure:"messages-per-second"`
	SendBuffer        int           `mapstructure:"send-buffer"`
	ChatHistory       int           `mapstructure:"chat-history"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout"`
}

func DefaultServer() Server {
	return Server{
		Listen:            ":8080",
		LogLevel:          "info",
		LogFormat:         "console",
		MaxMessageBytes:   64 * 1024,
		MessagesPerSecond: 50,
		SendBuffer:        64,
		ChatHistory:       100,
		ShutdownTimeout:   5 * time.Second,
	}
}

// ServerFlags registers every Server key on fs with its default.
func ServerFlags(fs *pflag.FlagSet) {
	d := DefaultServer()
	fs.StringP("listen", "l", d.Listen, "Listen address for HTTP and WebSocket")
	fs.String("log-level", d.LogLevel, "debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "console or json")
	fs.String("static-dir", d.StaticDir, "Directory served at / (disabled when empty)")
	fs.StringSlice("allowed-origins", d.AllowedOrigins, "Allowed WebSocket origins (all when empty)")
	fs.Int64("max-message-bytes", d.MaxMessageBytes, "Largest inbound frame")
	fs.Float64("messages-per-second", d.MessagesPerSecond, "Inbound frame rate per connection, 0 for unlimited")
	fs.Int("send-buffer", d.SendBuffer, "Outbound frames queued per connection")
	fs.Int("chat-history", d.ChatHistory, "Chat messages kept per room")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "Grace period for open requests on shutdown")
}

type Peer struct {
	Server             string        `mapstructure:"server"`
	Room               string        `mapstructure:"room"`
	Name               string        `mapstructure:"name"`
	ICEServers         []string      `mapstructure:"ice-servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation-timeout"`
	IVF                string        `mapstructure:"ivf"`
	LogLevel           string        `mapstructure:"log-level"`
	LogFormat          string        `mapstructure:"log-format"`
}

func DefaultPeer() Peer {
	return Peer{
		Server: "ws://localhost:8080/ws",
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		NegotiationTimeout: 30 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

func PeerFlags(fs *pflag.FlagSet) {
	d := DefaultPeer()
	fs.StringP("server", "s", d.Server, "Hub WebSocket url")
	fs.StringP("room", "r", d.Room, "Room to join")
	fs.StringP("name", "n", d.Name, "Display name")
	fs.StringSlice("ice-servers", d.ICEServers, "STUN/TURN urls, turn:user:pass@host:port for credentials")
	fs.Duration("negotiation-timeout", d.NegotiationTimeout, "Give up on a peer that has not connected by then, negative to wait forever")
	fs.String("ivf", d.IVF, "VP8 IVF file to broadcast (test pattern when empty)")
	fs.String("log-level", d.LogLevel, "debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "console or json")
}

// Load binds flags and the environment to v, reads the config file if there
// is one and decodes the result into out. configFile may be empty, in which
// case castroom.yaml is looked up in the working directory.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string, out any) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
