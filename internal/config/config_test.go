package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"CHAT_TOKEN": "token",
		"CHANNEL_ID": "12345",
		"SECRET_KEY": "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadRequiresEnv(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when required environment variables are unset")
	}
}

func TestLoadSucceedsWithEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatToken != "token" {
		t.Fatalf("unexpected token: %v", cfg.ChatToken)
	}
	if cfg.DBPath != "./fs.db" {
		t.Fatalf("expected default db path, got %v", cfg.DBPath)
	}
	if cfg.ChatAPIURL != defaultAPIURL {
		t.Fatalf("expected default api url, got %v", cfg.ChatAPIURL)
	}
	if cfg.ChatCDNURL != defaultCDNURL {
		t.Fatalf("expected default cdn url, got %v", cfg.ChatCDNURL)
	}
}

func TestLoadMirrorFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MIRROR_S3_BUCKET", "my-bucket")
	t.Setenv("MIRROR_S3_REGION", "us-east-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mirror == nil || cfg.Mirror.S3 == nil {
		t.Fatal("expected s3 mirror config from environment")
	}
	if cfg.Mirror.S3.Bucket != "my-bucket" || cfg.Mirror.S3.Region != "us-east-1" {
		t.Fatalf("unexpected s3 config: %+v", cfg.Mirror.S3)
	}
	if cfg.Mirror.GCS != nil || cfg.Mirror.B2 != nil {
		t.Fatalf("expected only s3 to be populated: %+v", cfg.Mirror)
	}
}

func TestLoadDBPathOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PATH", "/tmp/custom.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Fatalf("expected overridden db path, got %v", cfg.DBPath)
	}
}

func TestLoadMirrorFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	mirrorPath := filepath.Join(dir, "mirror.yaml")
	contents := `
mirror:
  s3:
    access-key-id: AKIA
    secret-access-key: secret
    bucket: my-bucket
    region: us-east-1
`
	if err := os.WriteFile(mirrorPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(mirrorPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mirror == nil || cfg.Mirror.S3 == nil {
		t.Fatal("expected s3 mirror config to be populated")
	}
	if cfg.Mirror.S3.Bucket != "my-bucket" {
		t.Fatalf("unexpected bucket: %v", cfg.Mirror.S3.Bucket)
	}
}

func TestSinksEmptyWithoutMirrorConfig(t *testing.T) {
	cfg := &Config{}
	set, err := cfg.Sinks()
	if err != nil {
		t.Fatal(err)
	}
	if set != nil {
		t.Fatal("expected nil set when no mirror config is present")
	}
}
