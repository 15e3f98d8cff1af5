package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpoint_NormalizesEngineAliases(t *testing.T) {
	ep, err := NewEndpoint(EndpointSource, "PostgreSQL", " source-db ", EndpointSettings{Database: "postgres"})
	require.NoError(t, err)

	assert.Equal(t, EndpointSource, ep.Kind())
	assert.Equal(t, EnginePostgres, ep.Engine())
	assert.Equal(t, "source-db", ep.ConnectionRef())
	assert.Equal(t, "postgres", ep.Settings().Database)
}

func TestNewEndpoint_TargetDefaultsToCSV(t *testing.T) {
	ep, err := NewEndpoint(EndpointTarget, "s3", "landing-zone", EndpointSettings{})
	require.NoError(t, err)
	assert.Equal(t, DataFormatCSV, ep.Settings().DataFormat)
}

func TestNewEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		kind     EndpointKind
		engine   string
		ref      string
		settings EndpointSettings
		field    string
	}{
		{name: "unknown kind", kind: "sink", engine: "s3", ref: "x", field: "kind"},
		{name: "unsupported engine", kind: EndpointSource, engine: "oracle", ref: "x", field: "engine"},
		{name: "engine on wrong side", kind: EndpointTarget, engine: "postgres", ref: "x", field: "engine"},
		{name: "empty connection ref", kind: EndpointSource, engine: "mysql", ref: "  ", field: "connection_ref"},
		{name: "bad data format", kind: EndpointTarget, engine: "s3", ref: "x", settings: EndpointSettings{DataFormat: "avro"}, field: "data_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEndpoint(tt.kind, tt.engine, tt.ref, tt.settings)
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
