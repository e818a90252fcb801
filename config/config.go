// Package config loads service settings from the environment and an optional
// YAML file. Keys are the environment variable names in lower case.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"board-api/domain"
)

// Task store backends.
const (
	StoreRemote   = "remote"
	StoreTable    = "table"
	StorePostgres = "postgres"
)

// Config holds every setting the commands read.
type Config struct {
	Port  string
	Debug bool

	TaskStore    string
	TaskAPIURL   string
	TaskAPIToken string

	StorageConnectionString string
	TasksTable              string
	EventsQueue             string
	DatabaseURL             string

	RedisConnectionString string
	CacheTTL              time.Duration

	Auth0Domain   string
	Auth0Audience string
	Auth0TestMode bool
	TestJWTSecret string

	RequestTimeout  time.Duration
	ReorderRollback bool
	Lanes           []domain.Lane
}

var keys = []string{
	"port", "debug", "task_store", "task_api_url", "task_api_token",
	"storage_connection_string", "tasks_table", "events_queue", "database_url",
	"redis_connection_string", "cache_ttl",
	"auth0_domain", "auth0_audience", "auth0_test_mode", "test_jwt_secret",
	"request_timeout", "reorder_rollback", "lanes",
}

// Load reads the configuration. path may be empty; a missing file is an error
// only when a path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("debug", false)
	v.SetDefault("task_store", StoreRemote)
	v.SetDefault("tasks_table", "Tasks")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("reorder_rollback", true)

	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("board")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading board.yaml: %w", err)
			}
		}
	}

	cfg := &Config{
		Port:                    v.GetString("port"),
		Debug:                   v.GetBool("debug"),
		TaskStore:               strings.ToLower(v.GetString("task_store")),
		TaskAPIURL:              strings.TrimRight(v.GetString("task_api_url"), "/"),
		TaskAPIToken:            v.GetString("task_api_token"),
		StorageConnectionString: v.GetString("storage_connection_string"),
		TasksTable:              v.GetString("tasks_table"),
		EventsQueue:             v.GetString("events_queue"),
		DatabaseURL:             v.GetString("database_url"),
		RedisConnectionString:   v.GetString("redis_connection_string"),
		CacheTTL:                v.GetDuration("cache_ttl"),
		Auth0Domain:             v.GetString("auth0_domain"),
		Auth0Audience:           v.GetString("auth0_audience"),
		Auth0TestMode:           v.GetBool("auth0_test_mode"),
		TestJWTSecret:           v.GetString("test_jwt_secret"),
		RequestTimeout:          v.GetDuration("request_timeout"),
		ReorderRollback:         v.GetBool("reorder_rollback"),
		Lanes:                   domain.DefaultLanes,
	}
	if raw := v.GetString("lanes"); raw != "" {
		lanes, err := ParseLanes(raw)
		if err != nil {
			return nil, err
		}
		cfg.Lanes = lanes
	}
	return cfg, nil
}

// ParseLanes reads a lane list of the form "todo:To Do,completed:Done".
// A lane without a title uses its status as the title.
func ParseLanes(raw string) ([]domain.Lane, error) {
	var lanes []domain.Lane
	seen := map[domain.Status]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, title, _ := strings.Cut(part, ":")
		status, err := domain.ParseStatus(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("lanes: %w", err)
		}
		if seen[status] {
			return nil, fmt.Errorf("lanes: duplicate lane %q", status)
		}
		seen[status] = true
		title = strings.TrimSpace(title)
		if title == "" {
			title = string(status)
		}
		lanes = append(lanes, domain.Lane{ID: status, Title: title})
	}
	if len(lanes) == 0 {
		return nil, errors.New("lanes: no lanes configured")
	}
	return lanes, nil
}

// ValidateStore reports the first missing setting of the selected task store.
func (c *Config) ValidateStore() error {
	switch c.TaskStore {
	case StoreRemote:
		if c.TaskAPIURL == "" {
			return errors.New("missing TASK_API_URL")
		}
	case StoreTable:
		if c.StorageConnectionString == "" || c.TasksTable == "" {
			return errors.New("missing storage config")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown TASK_STORE %q", c.TaskStore)
	}
	if c.CacheTTL < 0 {
		return errors.New("invalid CACHE_TTL")
	}
	if c.RequestTimeout < 0 {
		return errors.New("invalid REQUEST_TIMEOUT")
	}
	return nil
}

// Validate checks everything the HTTP service needs.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Auth0TestMode {
		if c.TestJWTSecret == "" {
			return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return nil
	}
	if c.Auth0Domain == "" || c.Auth0Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}
