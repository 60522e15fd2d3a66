package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env        string `envconfig:"ENV" default:"local"`
	HTTPHost   string `envconfig:"HTTP_HOST" default:""`
	HTTPPort   string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey     string `envconfig:"API_KEY"`
	RosterPath string `envconfig:"ROSTER_PATH" default:".bridge/roster.yaml"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".bridge/data"`
	// SQLite settings (used when Type == "sqlite")
	SQLitePath string `envconfig:"SQLITE_PATH" default:".bridge/data/bridge.db"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"bridge/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type DispatchEnv struct {
	Interval     time.Duration `envconfig:"DISPATCH_INTERVAL" default:"30s"`
	StaleAfter   time.Duration `envconfig:"HEARTBEAT_STALE_AFTER" default:"45s"`
	HeartbeatDir string        `envconfig:"HEARTBEAT_DIR" default:".bridge/heartbeats"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT"`
}

type JanitorEnv struct {
	Schedule       string        `envconfig:"JANITOR_SCHEDULE" default:"0 3 * * *"`
	TrashRetention time.Duration `envconfig:"TRASH_RETENTION" default:"168h"`
	EventRetention time.Duration `envconfig:"EVENT_RETENTION" default:"720h"`
}

type Env struct {
	BaseEnv
	StorageEnv
	DispatchEnv
	VAPIDEnv
	JanitorEnv
}

const namespace = "BRIDGE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func DispatchEnvFromEnv(env *Env) *DispatchEnv {
	return &env.DispatchEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}

func JanitorEnvFromEnv(env *Env) *JanitorEnv {
	return &env.JanitorEnv
}
