package configs

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mcuadros/go-defaults"
)

// Conf .
var Conf = newDefault()

// Config .
type Config struct {
	QemuImgBinary string `toml:"qemu_img_binary" default:"qemu-img"`
	DDBinary      string `toml:"dd_binary" default:"dd"`

	// ImageDir is the root dir relative image names resolve under.
	ImageDir  string `toml:"image_dir" default:"/var/lib/yaimg/images"`
	BackupDir string `toml:"backup_dir"`

	ExecTimeout Duration `toml:"exec_timeout"`

	LogLevel string `toml:"log_level" default:"info"`
	LogFile  string `toml:"log_file"`
}

func newDefault() Config {
	var conf Config
	defaults.SetDefaults(&conf)
	conf.ExecTimeout = Duration(time.Hour)
	return conf
}

// Dump .
func (c *Config) Dump() (string, error) {
	return Encode(c)
}

// Load merges the given toml files into c, later files win.
func (c *Config) Load(files []string) error {
	for _, path := range files {
		if err := DecodeFile(path, c); err != nil {
			return errors.Wrap(err, path)
		}
	}
	return nil
}
