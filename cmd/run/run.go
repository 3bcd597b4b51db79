package run

import (
	"github.com/cockroachdb/errors"
	"github.com/projecteru2/core/log"
	coretypes "github.com/projecteru2/core/types"
	"github.com/urfave/cli/v2"

	"github.com/projecteru2/yaimg/configs"
)

var runtime Runtime

// Runner .
type Runner func(*cli.Context, Runtime) error

// Runtime carries the per-invocation environment every subcommand
// action receives.
type Runtime struct {
	ConfigFiles []string
	RootDir     string
}

// Run .
func Run(fn Runner) cli.ActionFunc {
	return func(c *cli.Context) error {
		runtime.ConfigFiles = c.StringSlice("config")
		runtime.RootDir = c.String("root")

		if err := setup(c); err != nil {
			return errors.Wrap(err, "setup")
		}

		return fn(c, runtime)
	}
}

func setup(c *cli.Context) error {
	if len(runtime.ConfigFiles) > 0 {
		if err := configs.Conf.Load(runtime.ConfigFiles); err != nil {
			return errors.Wrap(err, "")
		}
	}

	if runtime.RootDir == "" {
		runtime.RootDir = configs.Conf.ImageDir
	}

	return log.SetupLog(c.Context, &coretypes.ServerLogConfig{
		Level:    configs.Conf.LogLevel,
		Filename: configs.Conf.LogFile,
	}, "")
}
