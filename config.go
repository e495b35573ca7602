package synctree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config carries both the core server parameters of §3 and the ambient
// fields of §10. Every field is loadable from a config file via
// mapstructure, following the convention aofei-air's Air struct uses.
type Config struct {
	AppName string `mapstructure:"app_name"`

	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Backlog            int    `mapstructure:"backlog"`
	ConnectionTimeoutS  int   `mapstructure:"connection_timeout_s"`
	IOBufSize          int    `mapstructure:"io_buf_size"`
	MaxInMemContentLen int64  `mapstructure:"max_in_mem_content_len"`

	APIPrefix string `mapstructure:"api_prefix"`

	// ForwardIOBufSize, when 0, disables proxying: the forwarding
	// endpoint answers with a 301 redirect instead of spawning a worker
	// (§4.7 step 3).
	ForwardIOBufSize int `mapstructure:"forward_io_buf_size"`

	LoggerEnabled bool   `mapstructure:"logger_enabled"`
	LoggerFormat  string `mapstructure:"logger_format"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddress string `mapstructure:"metrics_address"`

	ConfigFile string `mapstructure:"-"`
}

// DefaultConfig returns the defaults a config file may partially override,
// matching main-srv-forking.cc's ApplicationConfig::_initialize_defaults()
// (§12.2), with the IO buffer enlarged from the original's flagged test
// value of 128 bytes to the production value its own comment recommends.
func DefaultConfig() *Config {
	return &Config{
		AppName:            "synctree",
		Host:               "127.0.0.1",
		Port:               5657,
		Backlog:            8,
		ConnectionTimeoutS: 15,
		IOBufSize:          48 * 1024,
		MaxInMemContentLen: 10 * 1024 * 1024,
		APIPrefix:          "/api",
		ForwardIOBufSize:   48 * 1024,
		LoggerEnabled:      true,
		LoggerFormat:       DefaultLoggerFormat,
		MetricsEnabled:     false,
		MetricsAddress:     "127.0.0.1:9090",
	}
}

// LoadConfigFile decodes path (dispatched by extension: .json, .toml,
// .yaml/.yml) into a generic map and mapstructure-decodes it over cfg,
// leaving fields the file omits untouched. Mirrors aofei-air's Air.Serve()
// config-loading sequence.
func LoadConfigFile(cfg *Config, path string) error {
	raw := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		b, err := readFile(path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("decoding JSON config %q: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return fmt.Errorf("decoding TOML config %q: %w", path, err)
		}
	case ".yaml", ".yml":
		b, err := readFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("decoding YAML config %q: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension: %q", ext)
	}

	if err := mapstructure.Decode(raw, cfg); err != nil {
		return fmt.Errorf("decoding config into Config: %w", err)
	}
	cfg.ConfigFile = path
	return nil
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return b, nil
}

// WatchConfigFile starts an fsnotify watcher on cfg.ConfigFile, re-decoding
// it into cfg (via LoadConfigFile) on every write event and invoking onReload
// afterwards. The returned stop function closes the watcher. This is an
// ambient convenience absent from the original driver but exercised
// elsewhere in the teacher's own tree (asset hot-reload in coffer.go).
func WatchConfigFile(cfg *Config, onReload func(err error)) (stop func() error, err error) {
	if cfg.ConfigFile == "" {
		return func() error { return nil }, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting config watcher: %w", err)
	}
	if err := w.Add(cfg.ConfigFile); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %q: %w", cfg.ConfigFile, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onReload(LoadConfigFile(cfg, cfg.ConfigFile))
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w.Close, nil
}
