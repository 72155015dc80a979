package server

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkrehbiel/activitycore/server/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultDeliveryWorkers = 4
	defaultCacheTTL        = 10 * time.Minute
	defaultDatabase        = "activitycore.db"
)

type serverConfig struct {
	HostName        string `json:"host" yaml:"host"`
	Certificate     string `json:"certificate" yaml:"certificate"`
	PrivateKey      string `json:"privatekey" yaml:"privatekey"`
	Port            int    `json:"port" yaml:"port"`
	AcceptAll       bool   `json:"accept_all" yaml:"accept_all"` // for debugging
	SendUnsigned    bool   `json:"send_unsigned" yaml:"send_unsigned"`
	ReceiveUnsigned bool   `json:"receive_unsigned" yaml:"receive_unsigned"`
	MaxFollowers    int    `json:"max_followers" yaml:"max_followers"`
	Database        string `json:"database,omitempty" yaml:"database,omitempty"`
	FollowPolicy    string `json:"follow_policy,omitempty" yaml:"follow_policy,omitempty"`
	RequestTimeout  string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	DeliveryWorkers int    `json:"delivery_workers,omitempty" yaml:"delivery_workers,omitempty"`
	CacheTTL        string `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

func (s serverConfig) useTLS() bool {
	return s.Certificate != "" && s.PrivateKey != ""
}

func (s serverConfig) timeout() time.Duration {
	return parseDuration(s.RequestTimeout, defaultRequestTimeout)
}

func (s serverConfig) cacheTTL() time.Duration {
	return parseDuration(s.CacheTTL, defaultCacheTTL)
}

func (s serverConfig) workers() int {
	if s.DeliveryWorkers <= 0 {
		return defaultDeliveryWorkers
	}
	return s.DeliveryWorkers
}

func (s serverConfig) database() string {
	if s.Database == "" {
		return defaultDatabase
	}
	return s.Database
}

func (s serverConfig) policy() FollowPolicy {
	if s.FollowPolicy == "" {
		telemetry.Log("no follow_policy set, rejecting follow requests")
		return FollowReject
	}
	return ParseFollowPolicy(s.FollowPolicy)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type userConfig struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Summary     string `json:"summary,omitempty" yaml:"summary,omitempty"`
	SourceURL   string `json:"outboxSource" yaml:"outboxSource"`
	PubKeyFile  string `json:"pubKey,omitempty" yaml:"pubKey,omitempty"`
	PrivKeyFile string `json:"privKey,omitempty" yaml:"privKey,omitempty"`
	Token       string `json:"token,omitempty" yaml:"token,omitempty"`
}

type Config struct {
	URL    string       `json:"url" yaml:"url"` // public-facing URL
	Server serverConfig `json:"server" yaml:"server"`
	Users  []userConfig `json:"users" yaml:"users"`
}

func (c Config) PublicHost() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Validate catches the mistakes that would otherwise show up as odd federation failures.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url [%s] must be an absolute url", c.URL)
	}
	seen := map[string]bool{}
	for _, user := range c.Users {
		if user.Name == "" || strings.ContainsAny(user.Name, "/@ ") {
			return fmt.Errorf("user name [%s] is not usable", user.Name)
		}
		if seen[user.Name] {
			return fmt.Errorf("user [%s] is configured twice", user.Name)
		}
		seen[user.Name] = true
	}
	return nil
}

// ReadConfig parses JSON configuration
func ReadConfig(b []byte) (config Config, err error) {
	if uErr := json.Unmarshal(b, &config); uErr != nil {
		return config, uErr
	}
	return config, nil
}

// ReadYAMLConfig parses YAML configuration, same fields as the JSON
func ReadYAMLConfig(b []byte) (config Config, err error) {
	if uErr := yaml.Unmarshal(b, &config); uErr != nil {
		return config, uErr
	}
	return config, nil
}

// LoadConfig reads a config file, YAML or JSON by extension
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ReadYAMLConfig(b)
	}
	return ReadConfig(b)
}
