package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Cache       CacheConfig       `yaml:"cache"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Validation  ValidationConfig  `yaml:"validation"`
	Banks       BanksConfig       `yaml:"banks"`
	Minio       MinioConfig       `yaml:"minio"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Auth        AuthConfig        `yaml:"auth"`
	Users       []User            `yaml:"users"`
	PartyAddrs  []KeyValue        `yaml:"party_addr"`
	TokenAddrs  []KeyValue        `yaml:"token_addr"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerConfig selects the ledger backend. Mode "memory" runs an in-process
// ledger; "gateway" talks to a signing gateway over HTTP.
type LedgerConfig struct {
	Mode                string `yaml:"mode"`
	GatewayURL          string `yaml:"gateway_url"`
	GatewayToken        string `yaml:"gateway_token"`
	Network             string `yaml:"network"`
	WalletAddr          string `yaml:"wallet_addr"`
	ReceiptTimeoutSecs  int    `yaml:"receipt_timeout_seconds"`
	PollIntervalMillis  int    `yaml:"poll_interval_millis"`
	PaymentWriteTimeout int    `yaml:"payment_write_timeout_seconds"`
}

type CacheConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

type CryptoConfig struct {
	KeyID      string `yaml:"key_id"`
	PrimaryKey string `yaml:"primary_key"` // base64, 32 bytes
}

type CredentialsConfig struct {
	MasterKey    string     `yaml:"master_key"`
	PartyKeys    []KeyValue `yaml:"party_keys"`
	RefreshHours int        `yaml:"refresh_hours"`
}

type ValidationConfig struct {
	Attempts    int `yaml:"attempts"`
	DelayMillis int `yaml:"delay_millis"`
}

type BanksConfig struct {
	Mercury MercuryConfig `yaml:"mercury"`
	Token   TokenConfig   `yaml:"token"`
}

type MercuryConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type TokenConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	Network    string `yaml:"network"`
	Decimals   int    `yaml:"decimals"`
}

type MinioConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	ExpireHours int    `yaml:"expire_hours"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	HazardTopic string   `yaml:"hazard_topic"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// User is an operator allowed to log in; the issued token carries Credential.
type User struct {
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Credential string `yaml:"credential"`
}

type KeyValue struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

var GlobalConfig *Config

// Path returns the config file location, honouring FIZIT_CONFIG.
func Path() string {
	if p := os.Getenv("FIZIT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Ledger.Mode == "" {
		c.Ledger.Mode = "memory"
	}
	if c.Ledger.Network == "" {
		c.Ledger.Network = "fizit"
	}
	if c.Ledger.ReceiptTimeoutSecs == 0 {
		c.Ledger.ReceiptTimeoutSecs = 120
	}
	if c.Ledger.PollIntervalMillis == 0 {
		c.Ledger.PollIntervalMillis = 1000
	}
	if c.Ledger.PaymentWriteTimeout == 0 {
		c.Ledger.PaymentWriteTimeout = 180
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "fizit"
	}
	if c.Crypto.KeyID == "" {
		c.Crypto.KeyID = "k1"
	}
	if c.Credentials.RefreshHours == 0 {
		c.Credentials.RefreshHours = 6
	}
	if c.Validation.Attempts == 0 {
		c.Validation.Attempts = 5
	}
	if c.Validation.DelayMillis == 0 {
		c.Validation.DelayMillis = 1000
	}
	if c.Banks.Token.Network == "" {
		c.Banks.Token.Network = "avalanche"
	}
	if c.Banks.Token.Decimals == 0 {
		c.Banks.Token.Decimals = 6
	}
	if c.Minio.ExpireHours == 0 {
		c.Minio.ExpireHours = 24
	}
	if c.Kafka.HazardTopic == "" {
		c.Kafka.HazardTopic = "fizit.reconciliation"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
}

func (c *Config) validate() error {
	switch c.Ledger.Mode {
	case "memory":
	case "gateway":
		if c.Ledger.GatewayURL == "" {
			return fmt.Errorf("ledger.gateway_url is required in gateway mode")
		}
	default:
		return fmt.Errorf("unknown ledger.mode %q", c.Ledger.Mode)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// ValidationDelay is the fixed pause between contract count reads.
func (c *Config) ValidationDelay() time.Duration {
	return time.Duration(c.Validation.DelayMillis) * time.Millisecond
}

// CredentialRefresh is how long resolved credentials stay cached.
func (c *Config) CredentialRefresh() time.Duration {
	return time.Duration(c.Credentials.RefreshHours) * time.Hour
}

// PresignExpiry is the lifetime of artifact URLs and of their cache entries.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.Minio.ExpireHours) * time.Hour
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// PartyAddr returns the configured wallet address for a party code.
func (c *Config) PartyAddr(code string) (string, bool) {
	return lookup(c.PartyAddrs, code)
}

// TokenAddr returns the ERC-20 contract address for a token symbol.
func (c *Config) TokenAddr(symbol string) (string, bool) {
	return lookup(c.TokenAddrs, symbol)
}

func lookup(kvs []KeyValue, key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
