package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BioHazard786/peercall/internal/identity"
	"github.com/BioHazard786/peercall/internal/protocol"
)

// Default configuration values
const (
	DefaultAddr       = ":3000"
	DefaultWSPath     = "/ws"
	DefaultSendBuffer = 256
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultDeviceName = "default"
)

var (
	ErrMissingRelayURL = errors.New("relay URL is required (--relay or RELAY_URL)")
	ErrInvalidRole     = errors.New("role must be host or user")
)

// Relay holds the relay server configuration.
type Relay struct {
	Addr                 string
	WSPath               string
	SendBuffer           int
	MaxMessagesPerSecond int
}

// RelayOptions are CLI flag overrides; zero values fall through to the
// environment and then the defaults.
type RelayOptions struct {
	Addr                 string
	WSPath               string
	SendBuffer           int
	MaxMessagesPerSecond int
}

// LoadRelay reads relay configuration with the following priority:
// 1. CLI flags (passed via RelayOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadRelay(opts RelayOptions) (*Relay, error) {
	sendBuffer, err := intSetting(opts.SendBuffer, "SEND_BUFFER", DefaultSendBuffer)
	if err != nil {
		return nil, err
	}
	maxRate, err := intSetting(opts.MaxMessagesPerSecond, "MAX_MESSAGES_PER_SECOND", 0)
	if err != nil {
		return nil, err
	}

	path := stringSetting(opts.WSPath, "WS_PATH", DefaultWSPath)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Relay{
		Addr:                 stringSetting(opts.Addr, "LISTEN_ADDR", DefaultAddr),
		WSPath:               path,
		SendBuffer:           sendBuffer,
		MaxMessagesPerSecond: maxRate,
	}, nil
}

// Client holds the host/user client configuration.
type Client struct {
	RelayURL   string
	Role       string
	DeviceName string
	IDFile     string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	Debug   bool
	LogFile string
}

// ClientOptions are CLI flag overrides for LoadClient.
type ClientOptions struct {
	RelayURL   string
	Role       string
	DeviceName string
	IDFile     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Debug      bool
	LogFile    string
}

// LoadClient reads client configuration, flag > env > default. The relay
// URL has no default: running without one is a startup error.
func LoadClient(opts ClientOptions) (*Client, error) {
	if opts.Role != protocol.RoleHost && opts.Role != protocol.RoleUser {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, opts.Role)
	}

	relayURL := stringSetting(opts.RelayURL, "RELAY_URL", "")
	if relayURL == "" {
		return nil, ErrMissingRelayURL
	}

	idFile := stringSetting(opts.IDFile, "ID_FILE", "")
	if idFile == "" {
		path, err := identity.DefaultPath()
		if err != nil {
			return nil, err
		}
		idFile = path
	}

	return &Client{
		RelayURL:   relayURL,
		Role:       opts.Role,
		DeviceName: stringSetting(opts.DeviceName, "DEVICE_NAME", DefaultDeviceName),
		IDFile:     idFile,
		STUNServer: stringSetting(opts.STUNServer, "STUN_URL", DefaultSTUN),
		TURNServer: stringSetting(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   stringSetting(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   stringSetting(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || boolEnv("FORCE_RELAY"),
		Debug:      opts.Debug || boolEnv("DEBUG"),
		LogFile:    stringSetting(opts.LogFile, "LOG_FILE", ""),
	}, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

func stringSetting(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func intSetting(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", env, v)
	}
	return n, nil
}

func boolEnv(env string) bool {
	v, err := strconv.ParseBool(os.Getenv(env))
	return err == nil && v
}
