package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true"`

	IndexName string `split_words:"true"`
}

func loadEnv() envVars {
	// a missing .env file is fine, the process env still applies
	_ = godotenv.Load()

	var env envVars
	envconfig.MustProcess("RELSTORE", &env)

	if env.Environment != "" && env.Environment != EnvDev && env.Environment != EnvProd {
		panic("invalid environment")
	} else if env.Environment == "" {
		env.Environment = EnvDev
	}

	if env.IndexName == "" {
		env.IndexName = "primary"
	}

	return env
}
