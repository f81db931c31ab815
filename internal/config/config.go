package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Explainer struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"explainer"`
	Coordinator struct {
		PendingPollMillis  int64 `yaml:"pending_poll_millis"`
		PendingWaitSeconds int64 `yaml:"pending_wait_seconds"`
		QualitySampleSize  int   `yaml:"quality_sample_size"`
	} `yaml:"coordinator"`
	Study struct {
		DefaultQuestionCount int `yaml:"default_question_count"`
		MaxQuestionCount     int `yaml:"max_question_count"`
	} `yaml:"study"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if config.Coordinator.PendingPollMillis <= 0 {
		config.Coordinator.PendingPollMillis = 500
	}
	if config.Coordinator.PendingWaitSeconds <= 0 {
		config.Coordinator.PendingWaitSeconds = 120
	}
	if config.Coordinator.QualitySampleSize <= 0 {
		config.Coordinator.QualitySampleSize = 50
	}
	if config.Study.DefaultQuestionCount <= 0 {
		config.Study.DefaultQuestionCount = 10
	}
	if config.Study.MaxQuestionCount <= 0 {
		config.Study.MaxQuestionCount = 20
	}

	return config, nil
}
