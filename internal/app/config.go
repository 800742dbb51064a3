package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fastybird/hapbridge/pkg/shell"
	"github.com/fastybird/hapbridge/pkg/yaml"
)

var ConfigPath string

var ErrConfigDisabled = errors.New("app: config file disabled")

func LoadConfig(v any) {
	for _, data := range configs {
		if err := yaml.Unmarshal(data, v); err != nil {
			Logger.Warn().Err(err).Msg("[app] read config")
		}
	}
}

var patchMu sync.Mutex

// PatchConfig changes one value in the config file, ex.
// PatchConfig(pairings, "homekit", "pairings"). Nil value removes the key.
func PatchConfig(value any, path ...string) error {
	if ConfigPath == "" {
		return ErrConfigDisabled
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	// empty config is OK
	b, _ := os.ReadFile(ConfigPath)

	b, err := yaml.Patch(b, value, path...)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath, b, 0644)
}

type flagConfig []string

func (c *flagConfig) String() string {
	return strings.Join(*c, " ")
}

func (c *flagConfig) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var configs [][]byte

func initConfig(confs flagConfig) {
	configs = nil

	if confs == nil {
		confs = []string{"hapbridge.yaml"}
	}

	for _, conf := range confs {
		if len(conf) == 0 {
			continue
		}
		if conf[0] == '{' {
			// config as raw YAML or JSON
			configs = append(configs, []byte(conf))
		} else if data := parseConfString(conf); data != nil {
			configs = append(configs, data)
		} else {
			// config as file
			if ConfigPath == "" {
				ConfigPath = conf
			}

			if data, _ = os.ReadFile(conf); data == nil {
				continue
			}

			data = []byte(shell.ReplaceEnvVars(string(data)))
			configs = append(configs, data)
		}
	}

	if ConfigPath != "" {
		if !filepath.IsAbs(ConfigPath) {
			if cwd, err := os.Getwd(); err == nil {
				ConfigPath = filepath.Join(cwd, ConfigPath)
			}
		}
		Info["config_path"] = ConfigPath
	}
}

// parseConfString converts `log.level=trace` to `{log: {level: trace}}`
func parseConfString(s string) []byte {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return nil
	}

	items := strings.Split(s[:i], ".")
	if len(items) < 2 {
		return nil
	}

	var pre string
	var suf = s[i+1:]
	for _, item := range items {
		pre += "{" + item + ": "
		suf += "}"
	}

	return []byte(pre + suf)
}
