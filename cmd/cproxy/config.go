package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Command line flags override it.
type Config struct {
	Root           string        `yaml:"root"`
	DB             string        `yaml:"db"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	MaxBytes       int64         `yaml:"maxBytes"`
	Open           bool          `yaml:"open"`
	Viewer         string        `yaml:"viewer"`
	Listen         string        `yaml:"listen"`
	LogFile        string        `yaml:"logFile"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
