// Package upnp composes the stack: configuration loading and the
// Service object tying router, registry, engines and service managers
// together with explicit startup and shutdown phases.
package upnp

import (
	_ "embed"
	"fmt"
	"os"
	"os/user"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/joerg1985/jupnp/upnp/config"
)

//go:embed jupnp.yaml
var defaultConfig []byte

const envConfigFile = "JUPNP_CONFIG"
const envPrefix = "JUPNP_CONFIG__"

// LoadSettings loads the configuration from the given path or a default
// location.
//
// It prioritizes paths in this order:
//   - the provided path,
//   - the file specified by the environment variable JUPNP_CONFIG,
//   - the .jupnp.yml file in the current directory,
//   - the .jupnp.yml file in the user's home directory.
//
// If no file is found, the embedded defaults are used. Individual keys
// can then be overridden with JUPNP_CONFIG__<KEY> environment variables,
// e.g. JUPNP_CONFIG__STREAM_LISTEN_PORT=8080.
func LoadSettings(filename string) (config.Settings, error) {
	var data []byte
	var err error

	p := filename
	if p != "" {
		log.Infof("✅ Trying to load config %s", p)
		data, err = os.ReadFile(p)
		if err != nil {
			log.Warnf("❌ cannot read config file %s", p)
			p = ""
		}
	}

	if p == "" {
		p = os.Getenv(envConfigFile)
		if p != "" {
			log.Infof("✅ Trying to load config specified in env var %s", envConfigFile)
			data, err = os.ReadFile(p)
			if err != nil {
				log.Warnf("❌ cannot read config file %s specified in env var %s", p, envConfigFile)
				p = ""
			}
		}
	}

	if p == "" {
		p = ".jupnp.yml"
		data, err = os.ReadFile(p)
		if err != nil {
			p = ""
		}
	}

	if p == "" {
		p = homeYmlPath()
		if p != "" {
			data, err = os.ReadFile(p)
			if err != nil {
				p = ""
			}
		}
	}

	if p == "" {
		log.Infof("✅ Using default embedded config")
		data = defaultConfig
	} else {
		log.Infof("✅ Loaded config from %s", p)
	}

	settings := config.Defaults()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("invalid YAML config: %w", err)
	}

	if err := applyEnvOverrides(&settings); err != nil {
		return settings, err
	}

	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// homeYmlPath returns "$HOME/.jupnp.yml", or "" when the current user
// cannot be determined.
func homeYmlPath() string {
	usr, err := user.Current()
	if err != nil {
		return ""
	}
	return path.Join(usr.HomeDir, ".jupnp.yml")
}

// applyEnvOverrides overlays JUPNP_CONFIG__<KEY>=<value> variables on
// the loaded settings. Values are parsed as YAML scalars, so numbers and
// lists work: JUPNP_CONFIG__INTERFACE_EXCLUDE='[docker0]'.
func applyEnvOverrides(settings *config.Settings) error {
	overrides := make(map[string]interface{})

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], envPrefix))
		overrides[key] = convertYAMLScalar(parts[1])
	}

	if len(overrides) == 0 {
		return nil
	}

	// Round-trip through YAML so the override map lands on the typed
	// struct with the same key grammar as the file.
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return fmt.Errorf("invalid env override: %w", err)
	}
	return nil
}

func convertYAMLScalar(s string) interface{} {
	var out interface{}
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		// fallback: keep string if parsing failed
		return s
	}
	return out
}
