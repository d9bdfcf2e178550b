// Centralized configuration. Every environment variable the server reads
// is collected here instead of scattered across the files that use it; an
// optional config.yaml can supply defaults, but an environment variable
// always wins.

package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable knob the server reads at startup.
type Config struct {
	BindAddress string
	RTMPPort    int
	SSLPort     int
	SSLCert     string
	SSLKey      string
	Host        string

	MaxIPConcurrentConnections int
	ConcurrentLimitWhitelist   string
	PlayWhitelist              string

	GopCacheSizeMB int

	SendChunkSize uint32
	WindowAckSize uint32
	PeerBandwidth uint32

	MaxMessageSize         uint32
	HandshakeTimeout       time.Duration
	EnableComplexHandshake bool

	StreamIDMaxLength int

	ControlBaseURL string
	ControlSecret  string
	ExternalIP     string
	ExternalPort   string
	ExternalSSL    bool

	JWTSecret        string
	CallbackURL      string
	CustomJWTSubject string

	RedisUse      bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool

	LogRequests bool
	LogDebug    bool
}

// yamlOverlay is the subset of Config a config.yaml file may set as a base
// layer; environment variables still take precedence over it.
type yamlOverlay struct {
	BindAddress string `yaml:"bind_address"`
	RTMPPort    int    `yaml:"rtmp_port"`
	SSLPort     int    `yaml:"ssl_port"`
	SSLCert     string `yaml:"ssl_cert"`
	SSLKey      string `yaml:"ssl_key"`
	Host        string `yaml:"host"`
}

// LoadConfig loads .env (if present), reads every environment variable the
// server understands, and applies an optional config.yaml as a base layer.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		BindAddress: os.Getenv("BIND_ADDRESS"),
		RTMPPort:    envInt("RTMP_PORT", 1935),
		SSLPort:     envInt("SSL_PORT", 443),
		SSLCert:     os.Getenv("SSL_CERT"),
		SSLKey:      os.Getenv("SSL_KEY"),
		Host:        os.Getenv("PUBLIC_HOST"),

		MaxIPConcurrentConnections: envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4),
		ConcurrentLimitWhitelist:   os.Getenv("CONCURRENT_LIMIT_WHITELIST"),
		PlayWhitelist:              os.Getenv("RTMP_PLAY_WHITELIST"),

		GopCacheSizeMB: envInt("GOP_CACHE_SIZE_MB", 256),

		SendChunkSize: uint32(envInt("RTMP_CHUNK_SIZE", RTMP_CHUNK_SIZE)),
		WindowAckSize: uint32(envInt("RTMP_WINDOW_ACK_SIZE", 5000000)),
		PeerBandwidth: uint32(envInt("RTMP_PEER_BANDWIDTH", 5000000)),

		MaxMessageSize:         uint32(envInt("RTMP_MAX_MESSAGE_SIZE", 8*1024*1024)),
		HandshakeTimeout:       time.Duration(envInt("RTMP_HANDSHAKE_TIMEOUT_MS", RTMP_PING_TIMEOUT)) * time.Millisecond,
		EnableComplexHandshake: os.Getenv("RTMP_ENABLE_COMPLEX_HANDSHAKE") != "NO",

		StreamIDMaxLength: envInt("STREAM_ID_MAX_LENGTH", 128),

		ControlBaseURL: os.Getenv("CONTROL_BASE_URL"),
		ControlSecret:  os.Getenv("CONTROL_SECRET"),
		ExternalIP:     os.Getenv("EXTERNAL_IP"),
		ExternalPort:   os.Getenv("EXTERNAL_PORT"),
		ExternalSSL:    os.Getenv("EXTERNAL_SSL") == "YES",

		JWTSecret:        os.Getenv("JWT_SECRET"),
		CallbackURL:      os.Getenv("CALLBACK_URL"),
		CustomJWTSubject: os.Getenv("CUSTOM_JWT_SUBJECT"),

		RedisUse:      os.Getenv("REDIS_USE") == "YES",
		RedisHost:     envString("REDIS_HOST", "localhost"),
		RedisPort:     envString("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  envString("REDIS_CHANNEL", "rtmp_commands"),
		RedisTLS:      os.Getenv("REDIS_TLS") == "YES",

		LogRequests: os.Getenv("LOG_REQUESTS") != "NO",
		LogDebug:    os.Getenv("LOG_DEBUG") == "YES",
	}

	applyYamlOverlay(cfg)

	return cfg
}

func applyYamlOverlay(cfg *Config) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return // No overlay file: environment variables are authoritative
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		LogWarning("Could not parse " + path + ": " + err.Error())
		return
	}

	if cfg.BindAddress == "" && overlay.BindAddress != "" {
		cfg.BindAddress = overlay.BindAddress
	}
	if os.Getenv("RTMP_PORT") == "" && overlay.RTMPPort != 0 {
		cfg.RTMPPort = overlay.RTMPPort
	}
	if os.Getenv("SSL_PORT") == "" && overlay.SSLPort != 0 {
		cfg.SSLPort = overlay.SSLPort
	}
	if cfg.SSLCert == "" && overlay.SSLCert != "" {
		cfg.SSLCert = overlay.SSLCert
	}
	if cfg.SSLKey == "" && overlay.SSLKey != "" {
		cfg.SSLKey = overlay.SSLKey
	}
	if cfg.Host == "" && overlay.Host != "" {
		cfg.Host = overlay.Host
	}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envString(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
