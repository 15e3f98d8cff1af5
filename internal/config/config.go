package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stanstork/stratum-replicator/internal/models"
)

const (
	TriggerModeCron     = "cron"
	TriggerModeTemporal = "temporal"

	ResolverStatic   = "static"
	ResolverPostgres = "postgres"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// AdminConfig is the single operator account of the admin API.
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
}

type TriggerConfig struct {
	Mode        string        `mapstructure:"mode"`
	Schedule    string        `mapstructure:"schedule"`
	TickTimeout time.Duration `mapstructure:"tick_timeout"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type ControllerConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Attempts    int           `mapstructure:"attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type EngineConfig struct {
	Image                string        `mapstructure:"image"`
	ContainerCPULimit    int64         `mapstructure:"container_cpu_limit"`
	ContainerMemoryLimit int64         `mapstructure:"container_memory_limit"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	PullTimeout          time.Duration `mapstructure:"pull_timeout"`
}

type ResolverConfig struct {
	Kind        string `mapstructure:"kind"`
	DatabaseURL string `mapstructure:"database_url"`
}

// ConnectionConfig is a statically declared connection. Passwords come from
// an environment variable or a base64 AES-GCM sealed value, never plaintext.
type ConnectionConfig struct {
	Ref         string `mapstructure:"ref"`
	Engine      string `mapstructure:"engine"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	PasswordEnv string `mapstructure:"password_env"`
	PasswordEnc string `mapstructure:"password_enc"`
	DBName      string `mapstructure:"db_name"`
	Bucket      string `mapstructure:"bucket"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
}

type EndpointConfig struct {
	Engine        string `mapstructure:"engine"`
	ConnectionRef string `mapstructure:"connection_ref"`
	Database      string `mapstructure:"database"`
	BucketFolder  string `mapstructure:"bucket_folder"`
	DataFormat    string `mapstructure:"data_format"`
}

type TableMappingConfig struct {
	Schema string `mapstructure:"schema"`
	Table  string `mapstructure:"table"`
	Action string `mapstructure:"action"`
}

type TaskConfig struct {
	ID               string               `mapstructure:"id"`
	MigrationMode    string               `mapstructure:"migration_mode"`
	TargetPrepPolicy string               `mapstructure:"target_prep_policy"`
	Source           EndpointConfig       `mapstructure:"source"`
	Target           EndpointConfig       `mapstructure:"target"`
	TableMappings    []TableMappingConfig `mapstructure:"table_mappings"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type AlertsConfig struct {
	Email EmailConfig `mapstructure:"email"`
}

type Config struct {
	Log         LogConfig          `mapstructure:"log"`
	ServerPort  string             `mapstructure:"server_port"`
	JWTSecret   string             `mapstructure:"jwt_secret"`
	Admin       AdminConfig        `mapstructure:"admin"`
	Trigger     TriggerConfig      `mapstructure:"trigger"`
	Temporal    TemporalConfig     `mapstructure:"temporal"`
	Controller  ControllerConfig   `mapstructure:"controller"`
	Engine      EngineConfig       `mapstructure:"engine"`
	Resolver    ResolverConfig     `mapstructure:"resolver"`
	Connections []ConnectionConfig `mapstructure:"connections"`
	Task        TaskConfig         `mapstructure:"task"`
	Alerts      AlertsConfig       `mapstructure:"alerts"`
}

// Keys that may be supplied only through the environment, e.g.
// STRATUM_JWT_SECRET.
var envKeys = []string{
	"server_port",
	"jwt_secret",
	"log.level",
	"admin.username",
	"admin.password_hash",
	"trigger.mode",
	"trigger.schedule",
	"temporal.host_port",
	"temporal.namespace",
	"resolver.kind",
	"resolver.database_url",
	"task.id",
	"alerts.email.password",
}

// Load reads the configuration from a YAML file and returns a Config
// instance. An empty path searches ./config.yaml and ./config/config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STRATUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Fallback defaults
func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Trigger.Mode == "" {
		c.Trigger.Mode = TriggerModeCron
	}
	if c.Trigger.Schedule == "" {
		c.Trigger.Schedule = "@daily"
	}
	if c.Trigger.TickTimeout == 0 {
		// Covers a fully retried describe followed by a fully retried start.
		c.Trigger.TickTimeout = 4 * time.Minute
	}
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Controller.CallTimeout == 0 {
		c.Controller.CallTimeout = 30 * time.Second
	}
	if c.Controller.Attempts == 0 {
		c.Controller.Attempts = 3
	}
	if c.Controller.BackoffBase == 0 {
		c.Controller.BackoffBase = 500 * time.Millisecond
	}
	if c.Engine.Image == "" {
		c.Engine.Image = "stanstork/stratum:latest"
	}
	if c.Engine.StopTimeout == 0 {
		c.Engine.StopTimeout = 30 * time.Second
	}
	if c.Engine.PullTimeout == 0 {
		c.Engine.PullTimeout = 15 * time.Minute
	}
	if c.Resolver.Kind == "" {
		c.Resolver.Kind = ResolverStatic
	}
	if c.Alerts.Email.SMTPPort == 0 {
		c.Alerts.Email.SMTPPort = 587
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	switch c.Trigger.Mode {
	case TriggerModeCron, TriggerModeTemporal:
	default:
		return fmt.Errorf("trigger.mode must be %q or %q, got %q", TriggerModeCron, TriggerModeTemporal, c.Trigger.Mode)
	}
	if c.Trigger.TickTimeout < 0 {
		return fmt.Errorf("trigger.tick_timeout must be positive")
	}
	if c.Controller.Attempts < 1 {
		return fmt.Errorf("controller.attempts must be at least 1")
	}
	if c.Controller.CallTimeout < 0 || c.Controller.CallTimeout > 30*time.Second {
		return fmt.Errorf("controller.call_timeout must be between 0 and 30s, got %s", c.Controller.CallTimeout)
	}
	switch c.Resolver.Kind {
	case ResolverStatic:
	case ResolverPostgres:
		if c.Resolver.DatabaseURL == "" {
			return fmt.Errorf("resolver.database_url is required for the postgres resolver")
		}
	default:
		return fmt.Errorf("resolver.kind must be %q or %q, got %q", ResolverStatic, ResolverPostgres, c.Resolver.Kind)
	}
	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Ref == "" {
			return fmt.Errorf("connections[%d].ref must be set", i)
		}
		if seen[conn.Ref] {
			return fmt.Errorf("connections[%d]: duplicate ref %q", i, conn.Ref)
		}
		seen[conn.Ref] = true
		if conn.PasswordEnv != "" && conn.PasswordEnc != "" {
			return fmt.Errorf("connection %q: password_env and password_enc are mutually exclusive", conn.Ref)
		}
	}
	if c.Alerts.Email.Enabled && (c.Alerts.Email.SMTPHost == "" || c.Alerts.Email.From == "") {
		return fmt.Errorf("alerts.email requires smtp_host and from when enabled")
	}
	_, err := c.JobDefinition()
	return err
}

// JobDefinition builds the supervised task from the task section. Errors are
// *models.ConfigurationError.
func (c *Config) JobDefinition() (models.JobDefinition, error) {
	t := c.Task
	src, err := models.NewEndpoint(models.EndpointSource, t.Source.Engine, t.Source.ConnectionRef, models.EndpointSettings{
		Database: t.Source.Database,
	})
	if err != nil {
		return models.JobDefinition{}, fieldPrefix("task.source", err)
	}
	dst, err := models.NewEndpoint(models.EndpointTarget, t.Target.Engine, t.Target.ConnectionRef, models.EndpointSettings{
		BucketFolder: t.Target.BucketFolder,
		DataFormat:   models.DataFormat(strings.ToLower(strings.TrimSpace(t.Target.DataFormat))),
	})
	if err != nil {
		return models.JobDefinition{}, fieldPrefix("task.target", err)
	}

	mappings := make([]models.TableMapping, 0, len(t.TableMappings))
	for _, m := range t.TableMappings {
		mappings = append(mappings, models.TableMapping{Schema: m.Schema, Table: m.Table, Action: m.Action})
	}

	def, err := models.NewJobDefinition(t.ID, src, dst,
		models.MigrationMode(t.MigrationMode), models.TargetPrepPolicy(t.TargetPrepPolicy), mappings)
	if err != nil {
		return models.JobDefinition{}, fieldPrefix("task", err)
	}
	return def, nil
}

func fieldPrefix(prefix string, err error) error {
	if cfgErr, ok := err.(*models.ConfigurationError); ok {
		return &models.ConfigurationError{Field: prefix + "." + cfgErr.Field, Reason: cfgErr.Reason}
	}
	return err
}
