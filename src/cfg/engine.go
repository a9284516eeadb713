package cfg

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type EngineConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`

	DataDir         string        `mapstructure:"DATA_DIR"`
	DatabaseName    string        `mapstructure:"DATABASE_NAME"`
	PoolSize        uint64        `mapstructure:"POOL_SIZE"`
	LogFlushTimeout time.Duration `mapstructure:"LOG_FLUSH_TIMEOUT"`
	StrictTwoPhase  bool          `mapstructure:"STRICT_TWO_PHASE"`
}

func LoadConfig(path string) (EngineConfig, error) {
	viper.AddConfigPath(path)
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.SetEnvPrefix("RELSTORE")
	viper.AutomaticEnv()

	viper.SetOptions(viper.ExperimentalBindStruct())

	viper.SetDefault("ENVIRONMENT", DefaultEnv)
	viper.SetDefault("DATA_DIR", ".")
	viper.SetDefault("DATABASE_NAME", "relstore")
	viper.SetDefault("POOL_SIZE", 64)
	viper.SetDefault("LOG_FLUSH_TIMEOUT", time.Second)
	viper.SetDefault("STRICT_TWO_PHASE", true)

	err := viper.ReadInConfig()
	if err != nil {
		fmt.Println("config file not found, using env vars")
	}

	var cfg EngineConfig

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("viper unmarshaling config: %w", err)
	}

	err = cfg.Environment.Validate()
	if err != nil {
		return EngineConfig{}, fmt.Errorf("environment validation: %w", err)
	}

	if cfg.PoolSize == 0 {
		return EngineConfig{}, errors.New("pool size must be positive")
	}

	return cfg, nil
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}
