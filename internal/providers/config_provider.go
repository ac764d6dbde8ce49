package providers

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cloutdash/internal/structures"
)

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	v := viper.New()
	filename := filepath.Base(flags.ConfigPath)
	v.AddConfigPath(filepath.Dir(flags.ConfigPath))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	v.SetDefault("store.batchSize", 450)
	v.SetDefault("store.commitPause", 50*time.Millisecond)
	v.SetDefault("sync.deleteFanOut", 10)
	v.SetDefault("sync.progressInterval", 100*time.Millisecond)
	v.SetDefault("sync.queueSize", 64)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("importer.settle", 500*time.Millisecond)

	v.BindEnv("logger.level", "CLOUT_LOG_LEVEL")
	v.BindEnv("store.dsn", "CLOUT_STORE_DSN")
	v.BindEnv("store.batchSize", "CLOUT_STORE_BATCH_SIZE")
	v.BindEnv("localCache.path", "CLOUT_LOCAL_CACHE")
	v.BindEnv("cache.enabled", "CLOUT_CACHE_ENABLED")
	v.BindEnv("cache.size", "CLOUT_CACHE_SIZE")
	v.BindEnv("importer.dir", "CLOUT_IMPORT_DIR")
	v.BindEnv("backup.path", "CLOUT_BACKUP_PATH")

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "CloutDash"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
