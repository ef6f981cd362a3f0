package config

import (
	"time"
)

// Config is the complete application configuration
type Config struct {
	Verbose bool   `mapstructure:"verbose"`
	LogFile string `mapstructure:"log-file"`

	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Queue     QueueConfig      `mapstructure:"queue"`
	Storage   StorageSettings  `mapstructure:"storage"`
	Providers ProvidersConfig  `mapstructure:"providers"`
	HTTP      HTTPClientConfig `mapstructure:"http"`
	FFmpeg    FFmpegConfig     `mapstructure:"ffmpeg"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
	// PollInterval is advertised to clients polling GET /projects/:id
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

// AuthConfig configures caller identity. An empty secret disables auth and
// every request acts as the anonymous owner.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt-secret"`
}

// DatabaseConfig configures the relational store
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max-open-conns"`
	MaxIdleConns int    `mapstructure:"max-idle-conns"`
	LogLevel     string `mapstructure:"log-level"` // silent, error, warn, info
	AutoMigrate  bool   `mapstructure:"auto-migrate"`
}

// RedisConfig configures the redis connection shared by the queue, the
// progress publisher and the cancel registry
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig configures asynchronous pipeline runs
type QueueConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Concurrency int    `mapstructure:"concurrency"`
	Name        string `mapstructure:"name"`
}

// StorageSettings configures the object store
type StorageSettings struct {
	Backend       string `mapstructure:"backend"` // aws, local
	Bucket        string `mapstructure:"bucket"`
	Directory     string `mapstructure:"directory"`
	Region        string `mapstructure:"region"`
	Profile       string `mapstructure:"profile"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public-base-url"`
}

// ProvidersConfig groups the external generation services
type ProvidersConfig struct {
	Video VideoProviderConfig `mapstructure:"video"`
	Image ImageProviderConfig `mapstructure:"image"`
	Music MusicProviderConfig `mapstructure:"music"`
	LLM   LLMConfig           `mapstructure:"llm"`
}

// VideoProviderConfig configures the submit/poll video generation API
type VideoProviderConfig struct {
	BaseURL           string        `mapstructure:"base-url"`
	APIKey            string        `mapstructure:"api-key"`
	DefaultModel      string        `mapstructure:"default-model"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	GenerationTimeout time.Duration `mapstructure:"generation-timeout"`
}

// ImageProviderConfig configures the image generation API
type ImageProviderConfig struct {
	APIKey       string `mapstructure:"api-key"`
	BaseURL      string `mapstructure:"base-url"`
	DefaultModel string `mapstructure:"default-model"`
}

// MusicProviderConfig configures the music generation API
type MusicProviderConfig struct {
	BaseURL string `mapstructure:"base-url"`
	APIKey  string `mapstructure:"api-key"`
	Model   string `mapstructure:"model"`
}

// LLMConfig configures the script planning model
type LLMConfig struct {
	APIKey  string `mapstructure:"api-key"`
	BaseURL string `mapstructure:"base-url"`
	Model   string `mapstructure:"model"`
}

// HTTPClientConfig configures the shared outbound HTTP client
type HTTPClientConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry-attempts"`
	RetryDelay    time.Duration `mapstructure:"retry-delay"`
	UserAgent     string        `mapstructure:"user-agent"`
}

// FFmpegConfig configures the ffmpeg/ffprobe binaries
type FFmpegConfig struct {
	FFmpegPath  string        `mapstructure:"ffmpeg-path"`
	FFprobePath string        `mapstructure:"ffprobe-path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds the orchestration limits. Every retry and timeout
// value lives here rather than in code.
type PipelineConfig struct {
	SceneConcurrency int           `mapstructure:"scene-concurrency"`
	AssetConcurrency int           `mapstructure:"asset-concurrency"`
	CallTimeout      time.Duration `mapstructure:"call-timeout"`
	RetryAttempts    int           `mapstructure:"retry-attempts"`
	TotalTimeout     time.Duration `mapstructure:"total-timeout"`
	MaxAssets        int           `mapstructure:"max-assets"`
	MaxSceneSeconds  int           `mapstructure:"max-scene-seconds"`
	MusicVolume      float64       `mapstructure:"music-volume"`
	WorkDir          string        `mapstructure:"work-dir"`
	StaleGrace       time.Duration `mapstructure:"stale-grace"`
	CancelTTL        time.Duration `mapstructure:"cancel-ttl"`
}
