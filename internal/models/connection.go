package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// Connection holds the resolved connection details behind an endpoint's
// connection reference. The password never leaves the process except inside
// the engine config handed to the replication container.
type Connection struct {
	Ref      string `json:"ref" db:"ref"`
	Engine   string `json:"engine" db:"engine"` // enum: postgres, mysql, s3
	Host     string `json:"host" db:"host"`
	Port     int    `json:"port" db:"port"`
	Username string `json:"username" db:"username"`
	Password string `json:"-" db:"-"` // plaintext, decrypted on resolve
	DBName   string `json:"db_name" db:"db_name"`
	Bucket   string `json:"bucket" db:"bucket"`
	Region   string `json:"region" db:"region"`
	Endpoint string `json:"endpoint" db:"endpoint"` // optional S3-compatible endpoint URL
}

// GenerateConnString builds the engine connection string. For s3 targets the
// username/password pair is the access key id and secret.
func (c *Connection) GenerateConnString() (string, error) {
	switch NormalizeEngine(c.Engine) {
	case EnginePostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Username, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.DBName,
		}
		return u.String(), nil
	case EngineMySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
		cfg.DBName = c.DBName
		return cfg.FormatDSN(), nil
	case EngineS3:
		if c.Bucket == "" {
			return "", fmt.Errorf("connection %q: bucket is required for s3", c.Ref)
		}
		u := url.URL{Scheme: "s3", Host: c.Bucket}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		q := url.Values{}
		if c.Region != "" {
			q.Set("region", c.Region)
		}
		if c.Endpoint != "" {
			q.Set("endpoint", c.Endpoint)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return "", fmt.Errorf("connection %q: unsupported engine %q", c.Ref, c.Engine)
	}
}

// String never includes the password.
func (c Connection) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s", c.Ref, NormalizeEngine(c.Engine))
	if c.Host != "" {
		fmt.Fprintf(&b, " %s:%d", c.Host, c.Port)
	}
	if c.Bucket != "" {
		fmt.Fprintf(&b, " bucket=%s", c.Bucket)
	}
	if c.Username != "" {
		fmt.Fprintf(&b, " user=%s password=***", c.Username)
	}
	b.WriteString(")")
	return b.String()
}

func (c Connection) MarshalZerologObject(e *zerolog.Event) {
	e.Str("ref", c.Ref).
		Str("engine", NormalizeEngine(c.Engine)).
		Str("host", c.Host).
		Int("port", c.Port).
		Str("db_name", c.DBName).
		Str("bucket", c.Bucket).
		Bool("has_password", c.Password != "")
}
