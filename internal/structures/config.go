package structures

import "time"

type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required|uint|min:1"`
}

type StoreConfig struct {
	DSN         string        `yaml:"dsn" validate:"required"`
	BatchSize   int           `yaml:"batchSize" validate:"required|min:1|max:500"`
	CommitPause time.Duration `yaml:"commitPause"`
}

type SyncConfig struct {
	DeleteFanOut     int           `yaml:"deleteFanOut" validate:"required|min:1"`
	ProgressInterval time.Duration `yaml:"progressInterval"`
	QueueSize        int           `yaml:"queueSize"`
	RefreshInterval  time.Duration `yaml:"refreshInterval"`
}

type LocalCacheConfig struct {
	Path                  string `yaml:"path"`
	ClearOnAnonymousStart bool   `yaml:"clearOnAnonymousStart"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BackupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

type ImporterConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	Settle  time.Duration `yaml:"settle"`
}

type Config struct {
	AppName    string
	Debug      bool
	Path       string
	WebServer  Server           `yaml:"webServer"`
	Store      StoreConfig      `yaml:"store"`
	Sync       SyncConfig       `yaml:"sync"`
	LocalCache LocalCacheConfig `yaml:"localCache"`
	Logger     LoggerConfig     `yaml:"logger"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Importer   ImporterConfig   `yaml:"importer"`
	Backup     BackupConfig     `yaml:"backup"`
}
