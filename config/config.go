package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	PosSync  PosSyncConfig  `yaml:"possync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	SyncCompletedTopicName      string `yaml:"sync_completed_topic_name"`
	TrackingDiscoveredTopicName string `yaml:"tracking_discovered_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PosSyncConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	KRSBaseURL     string `yaml:"krs_base_url"`
	KRSUsername    string `yaml:"krs_username"`
	KRSPassword    string `yaml:"krs_password"`
	KRSAccountCode string `yaml:"krs_account_code"`

	SyncPageSize          int `yaml:"sync_page_size"`
	SyncMinPageSize       int `yaml:"sync_min_page_size"`
	SyncMaxAttempts       int `yaml:"sync_max_attempts"`
	SyncBackoffBaseMillis int `yaml:"sync_backoff_base_millis"`
	SyncBackoffCapSeconds int `yaml:"sync_backoff_cap_seconds"`

	IncrementalWindowDays int    `yaml:"incremental_window_days"`
	FullSyncLowerBound    string `yaml:"full_sync_lower_bound"` // YYYY-MM-DD

	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
	RunLockTTLSeconds int `yaml:"run_lock_ttl_seconds"`

	// Cascade scope for forced buyer deletion: when true, package details of
	// cascaded orders are deleted together with the orders themselves.
	DeletePackageDetailsOnCascade bool `yaml:"delete_package_details_on_cascade"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
