package app

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelStore/src/cfg"
	"github.com/Blackdeer1524/RelStore/src/cli"
	"github.com/Blackdeer1524/RelStore/src/engine"
	"github.com/Blackdeer1524/RelStore/src/pkg/utils"
)

// Entrypoint owns the process lifecycle: config and env loading, logger
// selection, engine open/close and the REPL loop.
type Entrypoint struct {
	ConfigPath string

	env    envVars
	cfg    cfg.EngineConfig
	log    *zap.SugaredLogger
	engine *engine.Engine
	repl   *cli.Repl
}

func (e *Entrypoint) Init(ctx context.Context) error {
	e.env = loadEnv()

	config, err := cfg.LoadConfig(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = config

	if e.env.Environment == EnvDev {
		e.log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		e.log = utils.Must(zap.NewProduction()).Sugar()
	}

	eng, err := engine.Open(e.cfg, afero.NewOsFs(), e.log)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	e.engine = eng

	repl, err := cli.NewRepl(eng, e.env.IndexName)
	if err != nil {
		return fmt.Errorf("open index %q: %w", e.env.IndexName, err)
	}
	e.repl = repl

	return nil
}

func (e *Entrypoint) Run(ctx context.Context) error {
	return e.repl.Run()
}

func (e *Entrypoint) Close() (err error) {
	if e.engine != nil {
		err = e.engine.Close()
	}

	if e.log != nil {
		if err != nil {
			e.log.Error("failed to close engine", zap.Error(err))
		}

		logErr := e.log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
