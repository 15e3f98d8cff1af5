package models

import "strings"

type EndpointKind string

const (
	EndpointSource EndpointKind = "source"
	EndpointTarget EndpointKind = "target"
)

const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
	EngineS3       = "s3"
)

type DataFormat string

const (
	DataFormatCSV     DataFormat = "csv"
	DataFormatParquet DataFormat = "parquet"
)

var engineAliases = map[string]string{
	"pg":         EnginePostgres,
	"postgresql": EnginePostgres,
	"postgres":   EnginePostgres,
	"mysql":      EngineMySQL,
	"s3":         EngineS3,
}

var enginesByKind = map[EndpointKind]map[string]bool{
	EndpointSource: {EnginePostgres: true, EngineMySQL: true},
	EndpointTarget: {EngineS3: true},
}

// NormalizeEngine maps engine aliases onto their canonical name. Unknown
// engines are returned lower-cased and trimmed.
func NormalizeEngine(engine string) string {
	e := strings.ToLower(strings.TrimSpace(engine))
	if canonical, ok := engineAliases[e]; ok {
		return canonical
	}
	return e
}

// EndpointSettings carries the engine-specific knobs of an endpoint.
type EndpointSettings struct {
	// Database is the source database name.
	Database string
	// BucketFolder is the key prefix inside the target bucket.
	BucketFolder string
	// DataFormat is the target output format. Defaults to csv.
	DataFormat DataFormat
}

// Endpoint describes one side of a replication task. It is immutable once
// constructed; use NewEndpoint.
type Endpoint struct {
	kind          EndpointKind
	engine        string
	connectionRef string
	settings      EndpointSettings
}

// NewEndpoint validates and builds an endpoint descriptor.
func NewEndpoint(kind EndpointKind, engine, connectionRef string, settings EndpointSettings) (Endpoint, error) {
	supported, ok := enginesByKind[kind]
	if !ok {
		return Endpoint{}, &ConfigurationError{Field: "kind", Reason: "unsupported endpoint kind " + quote(string(kind))}
	}
	canonical := NormalizeEngine(engine)
	if _, known := engineAliases[canonical]; !known {
		return Endpoint{}, &ConfigurationError{Field: "engine", Reason: "unsupported engine " + quote(engine)}
	}
	if !supported[canonical] {
		return Endpoint{}, &ConfigurationError{Field: "engine", Reason: "engine " + quote(canonical) + " cannot be used as a " + string(kind)}
	}
	ref := strings.TrimSpace(connectionRef)
	if ref == "" {
		return Endpoint{}, &ConfigurationError{Field: "connection_ref", Reason: "must not be empty"}
	}

	if kind == EndpointTarget {
		switch settings.DataFormat {
		case "":
			settings.DataFormat = DataFormatCSV
		case DataFormatCSV, DataFormatParquet:
		default:
			return Endpoint{}, &ConfigurationError{Field: "data_format", Reason: "unsupported data format " + quote(string(settings.DataFormat))}
		}
	}

	return Endpoint{
		kind:          kind,
		engine:        canonical,
		connectionRef: ref,
		settings:      settings,
	}, nil
}

func (e Endpoint) Kind() EndpointKind         { return e.kind }
func (e Endpoint) Engine() string             { return e.engine }
func (e Endpoint) ConnectionRef() string      { return e.connectionRef }
func (e Endpoint) Settings() EndpointSettings { return e.settings }

// IsZero reports whether the endpoint was never constructed.
func (e Endpoint) IsZero() bool { return e.kind == "" }

func quote(s string) string { return `"` + s + `"` }
