// Package config loads the settings discfs-mount needs to talk to a chat
// service, encrypt blocks, and optionally mirror them to a second backend.
// Values come from the environment (optionally loaded from a .env file by
// the caller); an optional yaml file layers additional mirror settings on
// top for operators who'd rather check in a config file than set a long
// list of environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/sqooid/discfs/transport/mirror"
)

// Config is everything discfs-mount needs to construct a FileSystem.
type Config struct {
	ChatToken  string `yaml:"-"` // CHAT_TOKEN
	ChatAPIURL string `yaml:"-"` // CHAT_API_URL
	ChatCDNURL string `yaml:"-"` // CHAT_CDN_URL
	ChannelID  string `yaml:"-"` // CHANNEL_ID
	SecretKey  string `yaml:"-"` // SECRET_KEY, base64-encoded 32-byte AES key
	DBPath     string `yaml:"-"` // DB_PATH

	Mirror *MirrorConfig `yaml:"mirror"`
}

// MirrorConfig describes zero or more write-behind-only backup backends.
// At most one of each block may be set; an empty block is simply skipped.
type MirrorConfig struct {
	S3  *S3Config  `yaml:"s3"`
	GCS *GCSConfig `yaml:"gcs"`
	B2  *B2Config  `yaml:"b2"`
}

type S3Config struct {
	AccessKeyID     string `yaml:"access-key-id"`
	SecretAccessKey string `yaml:"secret-access-key"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials-path"`
}

type B2Config struct {
	AccountID string `yaml:"account-id"`
	KeyID     string `yaml:"key-id"`
	AppKey    string `yaml:"app-key"`
	Bucket    string `yaml:"bucket"`
}

const (
	defaultAPIURL = "https://discord.com/api/v10"
	defaultCDNURL = "https://cdn.discordapp.com/attachments"
)

// required fetches an environment variable, failing loudly if it's unset.
func required(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", name)
	}
	return v, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// loadMirrorFromEnv populates a MirrorConfig from the MIRROR_* variables,
// leaving the block nil for any backend with no bucket configured.
func loadMirrorFromEnv() *MirrorConfig {
	mc := &MirrorConfig{}
	any := false

	if bucket := os.Getenv("MIRROR_S3_BUCKET"); bucket != "" {
		mc.S3 = &S3Config{
			Bucket:          bucket,
			Region:          os.Getenv("MIRROR_S3_REGION"),
			Endpoint:        os.Getenv("MIRROR_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("MIRROR_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("MIRROR_S3_SECRET_ACCESS_KEY"),
		}
		any = true
	}
	if bucket := os.Getenv("MIRROR_GCS_BUCKET"); bucket != "" {
		mc.GCS = &GCSConfig{
			Bucket:          bucket,
			CredentialsPath: os.Getenv("MIRROR_GCS_CREDENTIALS_PATH"),
		}
		any = true
	}
	if bucket := os.Getenv("MIRROR_B2_BUCKET"); bucket != "" {
		mc.B2 = &B2Config{
			Bucket:    bucket,
			AccountID: os.Getenv("MIRROR_B2_ACCOUNT_ID"),
			KeyID:     os.Getenv("MIRROR_B2_KEY_ID"),
			AppKey:    os.Getenv("MIRROR_B2_APP_KEY"),
		}
		any = true
	}

	if !any {
		return nil
	}
	return mc
}

// Load reads the connection settings from the environment — CHAT_API_URL
// and CHAT_CDN_URL fall back to Discord's own endpoints since this filesystem
// was first built against a Discord channel as its transport, but any
// compatible chat service can be targeted by overriding them. Mirror backend
// settings come from MIRROR_* variables; if mirrorFile is non-empty, it is
// read afterward and overrides/extends whatever the environment provided.
func Load(mirrorFile string) (*Config, error) {
	cfg := &Config{
		DBPath:     "./fs.db",
		ChatAPIURL: envOr("CHAT_API_URL", defaultAPIURL),
		ChatCDNURL: envOr("CHAT_CDN_URL", defaultCDNURL),
		Mirror:     loadMirrorFromEnv(),
	}

	var err error
	if cfg.ChatToken, err = required("CHAT_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.ChannelID, err = required("CHANNEL_ID"); err != nil {
		return nil, err
	}
	if cfg.SecretKey, err = required("SECRET_KEY"); err != nil {
		return nil, err
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	for name, raw := range map[string]string{"CHAT_API_URL": cfg.ChatAPIURL, "CHAT_CDN_URL": cfg.ChatCDNURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("config: %s is not a valid URL: %q", name, raw)
		}
	}

	if mirrorFile != "" {
		raw, err := os.ReadFile(mirrorFile)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read mirror config %s: %w", mirrorFile, err)
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse mirror config %s: %w", mirrorFile, err)
		}
	}

	return cfg, nil
}

// Sinks constructs the set of mirror backends described by the config. It
// returns (nil, nil) if no mirror backends were configured.
func (c *Config) Sinks() (*mirror.Set, error) {
	if c.Mirror == nil {
		return nil, nil
	}

	sinks := make(map[string]mirror.Sink)

	if s3 := c.Mirror.S3; s3 != nil && s3.Bucket != "" {
		sink, err := mirror.NewS3(s3.AccessKeyID, s3.SecretAccessKey, s3.Bucket, s3.Endpoint, s3.Region)
		if err != nil {
			return nil, fmt.Errorf("config: failed to initialize s3 mirror: %w", err)
		}
		sinks["s3"] = sink
	}
	if gcs := c.Mirror.GCS; gcs != nil && gcs.Bucket != "" {
		sink, err := mirror.NewGCS(gcs.Bucket, gcs.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("config: failed to initialize gcs mirror: %w", err)
		}
		sinks["gcs"] = sink
	}
	if b2 := c.Mirror.B2; b2 != nil && b2.Bucket != "" {
		sink, err := mirror.NewB2(b2.AccountID, b2.KeyID, b2.AppKey, b2.Bucket)
		if err != nil {
			return nil, fmt.Errorf("config: failed to initialize b2 mirror: %w", err)
		}
		sinks["b2"] = sink
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return mirror.NewSet(sinks), nil
}

// MetricsAddr resolves the address the metrics server should listen on,
// defaulting to the port convention the rest of the pack uses.
func MetricsAddr() string {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		port = "3001"
	}
	if _, err := strconv.Atoi(port); err != nil {
		port = "3001"
	}
	return "localhost:" + port
}
