package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Media     MediaConfig
	Audio     AudioConfig
	Script    ScriptConfig
	T2V       T2VConfig
	Diff      DiffConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string // empty disables auth entirely
}

type RateLimitConfig struct {
	StorePerHour int
	RetryPerHour int
}

type StorageConfig struct {
	Root         string
	SettingsPath string
	MaxUploadMB  int
}

type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
}

type AudioConfig struct {
	Format string  // aac or mp3
	MaxMB  float64 // size target for the extracted track
}

type ScriptConfig struct {
	Backend        string // whisper or stub
	Binary         string
	Model          string
	VisualCommand  string // empty disables visual description
	VisualInterval float64
	VisualFrames   int
	StylePrompt    string
}

type T2VConfig struct {
	Backend         string // command or stub
	Command         string
	ModelID         string
	ModelPath       string
	StubDurationSec float64
}

type DiffConfig struct {
	Enabled bool
	Quality int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("storage.root", "STORAGE_ROOT")
	_ = viper.BindEnv("storage.settings_path", "SETTINGS_PATH")
	_ = viper.BindEnv("storage.max_upload_mb", "MAX_UPLOAD_MB")
	_ = viper.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = viper.BindEnv("audio.format", "AUDIO_FORMAT")
	_ = viper.BindEnv("audio.max_mb", "AUDIO_MAX_MB")
	_ = viper.BindEnv("script.backend", "SCRIPT_BACKEND")
	_ = viper.BindEnv("script.binary", "SCRIPT_BINARY")
	_ = viper.BindEnv("script.model", "SCRIPT_MODEL")
	_ = viper.BindEnv("script.visual_command", "SCRIPT_VISUAL_COMMAND")
	_ = viper.BindEnv("t2v.backend", "T2V_BACKEND")
	_ = viper.BindEnv("t2v.command", "T2V_COMMAND")
	_ = viper.BindEnv("t2v.model_id", "T2V_MODEL_ID")
	_ = viper.BindEnv("t2v.model_path", "T2V_MODEL_PATH")
	_ = viper.BindEnv("diff.enabled", "DIFF_ENABLED")
	_ = viper.BindEnv("diff.quality", "DIFF_QUALITY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("ratelimit.store_per_hour", 20)
	viper.SetDefault("ratelimit.retry_per_hour", 30)

	// Storage defaults
	viper.SetDefault("storage.root", "./storage")
	viper.SetDefault("storage.settings_path", "./settings.json")
	viper.SetDefault("storage.max_upload_mb", 1024)

	// Pipeline defaults
	viper.SetDefault("audio.format", "aac")
	viper.SetDefault("audio.max_mb", 5.0)
	viper.SetDefault("script.backend", "whisper")
	viper.SetDefault("script.binary", "whisper")
	viper.SetDefault("script.model", "base")
	viper.SetDefault("script.visual_command", "")
	viper.SetDefault("script.visual_interval", 1.0)
	viper.SetDefault("script.visual_frames", 60)
	viper.SetDefault("script.style_prompt", "The visual style of this scene is")
	viper.SetDefault("t2v.backend", "stub")
	viper.SetDefault("t2v.command", "")
	viper.SetDefault("t2v.model_id", "THUDM/CogVideoX-2b")
	viper.SetDefault("t2v.model_path", "./models/cogvideox")
	viper.SetDefault("t2v.stub_duration_sec", 5.0)
	viper.SetDefault("diff.enabled", true)
	viper.SetDefault("diff.quality", 6)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			StorePerHour: viper.GetInt("ratelimit.store_per_hour"),
			RetryPerHour: viper.GetInt("ratelimit.retry_per_hour"),
		},
		Storage: StorageConfig{
			Root:         viper.GetString("storage.root"),
			SettingsPath: viper.GetString("storage.settings_path"),
			MaxUploadMB:  viper.GetInt("storage.max_upload_mb"),
		},
		Media: MediaConfig{
			FFmpegPath:  viper.GetString("media.ffmpeg_path"),
			FFprobePath: viper.GetString("media.ffprobe_path"),
		},
		Audio: AudioConfig{
			Format: viper.GetString("audio.format"),
			MaxMB:  viper.GetFloat64("audio.max_mb"),
		},
		Script: ScriptConfig{
			Backend:        viper.GetString("script.backend"),
			Binary:         viper.GetString("script.binary"),
			Model:          viper.GetString("script.model"),
			VisualCommand:  viper.GetString("script.visual_command"),
			VisualInterval: viper.GetFloat64("script.visual_interval"),
			VisualFrames:   viper.GetInt("script.visual_frames"),
			StylePrompt:    viper.GetString("script.style_prompt"),
		},
		T2V: T2VConfig{
			Backend:         viper.GetString("t2v.backend"),
			Command:         viper.GetString("t2v.command"),
			ModelID:         viper.GetString("t2v.model_id"),
			ModelPath:       viper.GetString("t2v.model_path"),
			StubDurationSec: viper.GetFloat64("t2v.stub_duration_sec"),
		},
		Diff: DiffConfig{
			Enabled: viper.GetBool("diff.enabled"),
			Quality: viper.GetInt("diff.quality"),
		},
	}

	return cfg, nil
}
