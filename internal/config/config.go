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
	Server      ServerConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	DashScope   DashScopeConfig
	OSS         OSSConfig
	Concurrency ConcurrencyConfig
	Pipeline    PipelineConfig
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

type RateLimitConfig struct {
	GeneratePerHour int
}

type DashScopeConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	T2VModel   string
	I2VModel   string
	VoiceModel string
	Timeout    int // seconds, per request
}

type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ConcurrencyConfig struct {
	MaxParallelWorkers int
	ConcurrentScenes   int
	EnableParallel     bool
	AutoAdjustWorkers  bool
}

type PipelineConfig struct {
	WorkDir      string
	BGMPath      string
	StageTimeout int // seconds, per external call
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DASHSCOPE_API_KEY")
	readSecret("OSS_ACCESS_KEY_ID")
	readSecret("OSS_SECRET_ACCESS_KEY")

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
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("dashscope.api_key", "DASHSCOPE_API_KEY")
	_ = viper.BindEnv("dashscope.base_url", "DASHSCOPE_BASE_URL")
	_ = viper.BindEnv("dashscope.text_model", "DASHSCOPE_TEXT_MODEL")
	_ = viper.BindEnv("dashscope.t2v_model", "DASHSCOPE_T2V_MODEL")
	_ = viper.BindEnv("dashscope.i2v_model", "DASHSCOPE_I2V_MODEL")
	_ = viper.BindEnv("dashscope.voice_model", "DASHSCOPE_VOICE_MODEL")
	_ = viper.BindEnv("dashscope.timeout", "DASHSCOPE_TIMEOUT")
	_ = viper.BindEnv("oss.endpoint", "OSS_ENDPOINT")
	_ = viper.BindEnv("oss.access_key_id", "OSS_ACCESS_KEY_ID")
	_ = viper.BindEnv("oss.secret_access_key", "OSS_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("oss.bucket_name", "OSS_BUCKET_NAME")
	_ = viper.BindEnv("oss.public_url", "OSS_PUBLIC_URL")
	_ = viper.BindEnv("concurrency.max_parallel_workers", "MAX_PARALLEL_WORKERS")
	_ = viper.BindEnv("concurrency.concurrent_scenes", "CONCURRENT_SCENES")
	_ = viper.BindEnv("concurrency.enable_parallel", "ENABLE_PARALLEL")
	_ = viper.BindEnv("concurrency.auto_adjust_workers", "AUTO_ADJUST_WORKERS")
	_ = viper.BindEnv("pipeline.work_dir", "PIPELINE_WORK_DIR")
	_ = viper.BindEnv("pipeline.bgm_path", "PIPELINE_BGM_PATH")
	_ = viper.BindEnv("pipeline.stage_timeout", "PIPELINE_STAGE_TIMEOUT")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.generate_per_hour", 10)

	// DashScope defaults
	viper.SetDefault("dashscope.base_url", "https://dashscope.aliyuncs.com/api/v1")
	viper.SetDefault("dashscope.text_model", "qwen-plus")
	viper.SetDefault("dashscope.t2v_model", "wan2.2-t2v-plus")
	viper.SetDefault("dashscope.i2v_model", "wan2.2-i2v-flash")
	viper.SetDefault("dashscope.voice_model", "cosyvoice-v1")
	viper.SetDefault("dashscope.timeout", 120)

	// Concurrency defaults
	viper.SetDefault("concurrency.max_parallel_workers", 3)
	viper.SetDefault("concurrency.concurrent_scenes", 3)
	viper.SetDefault("concurrency.enable_parallel", true)
	viper.SetDefault("concurrency.auto_adjust_workers", false)

	// Pipeline defaults
	viper.SetDefault("pipeline.work_dir", "")
	viper.SetDefault("pipeline.bgm_path", "")
	viper.SetDefault("pipeline.stage_timeout", 600)

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
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
		},
		DashScope: DashScopeConfig{
			APIKey:     viper.GetString("dashscope.api_key"),
			BaseURL:    viper.GetString("dashscope.base_url"),
			TextModel:  viper.GetString("dashscope.text_model"),
			T2VModel:   viper.GetString("dashscope.t2v_model"),
			I2VModel:   viper.GetString("dashscope.i2v_model"),
			VoiceModel: viper.GetString("dashscope.voice_model"),
			Timeout:    viper.GetInt("dashscope.timeout"),
		},
		OSS: OSSConfig{
			Endpoint:        viper.GetString("oss.endpoint"),
			AccessKeyID:     viper.GetString("oss.access_key_id"),
			SecretAccessKey: viper.GetString("oss.secret_access_key"),
			BucketName:      viper.GetString("oss.bucket_name"),
			PublicURL:       viper.GetString("oss.public_url"),
		},
		Concurrency: ConcurrencyConfig{
			MaxParallelWorkers: viper.GetInt("concurrency.max_parallel_workers"),
			ConcurrentScenes:   viper.GetInt("concurrency.concurrent_scenes"),
			EnableParallel:     viper.GetBool("concurrency.enable_parallel"),
			AutoAdjustWorkers:  viper.GetBool("concurrency.auto_adjust_workers"),
		},
		Pipeline: PipelineConfig{
			WorkDir:      viper.GetString("pipeline.work_dir"),
			BGMPath:      viper.GetString("pipeline.bgm_path"),
			StageTimeout: viper.GetInt("pipeline.stage_timeout"),
		},
	}

	return cfg, nil
}
