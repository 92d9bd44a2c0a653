package dispatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// podConfigFile is the on-disk YAML shape of PodConfig; durations are
// written as strings ("5s", "1h").
type podConfigFile struct {
	Namespace      string `yaml:"namespace"`
	Image          string `yaml:"image"`
	ServiceAccount string `yaml:"service_account"`
	EnvSecret      string `yaml:"env_secret"`
	PollInterval   string `yaml:"poll_interval"`
	TTL            string `yaml:"ttl"`
}

// LoadPodConfig reads the pod backend settings from a YAML file.
func LoadPodConfig(path string) (PodConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PodConfig{}, fmt.Errorf("read pod config: %w", err)
	}

	var file podConfigFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return PodConfig{}, fmt.Errorf("parse pod config: %w", err)
	}
	if file.Namespace == "" || file.Image == "" {
		return PodConfig{}, fmt.Errorf("pod config requires namespace and image")
	}

	cfg := PodConfig{
		Namespace:      file.Namespace,
		Image:          file.Image,
		ServiceAccount: file.ServiceAccount,
		EnvSecret:      file.EnvSecret,
	}
	if file.PollInterval != "" {
		if cfg.PollInterval, err = time.ParseDuration(file.PollInterval); err != nil {
			return PodConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
	}
	if file.TTL != "" {
		if cfg.TTL, err = time.ParseDuration(file.TTL); err != nil {
			return PodConfig{}, fmt.Errorf("parse ttl: %w", err)
		}
	}
	return cfg, nil
}
