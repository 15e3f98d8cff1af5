package engine

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/resolver"
)

var dataFormatMap = map[string]string{
	models.EnginePostgres: "Postgres",
	models.EngineMySQL:    "MySql",
	models.EngineS3:       "S3",
}

type engineConn struct {
	ConnType string `json:"conn_type"`
	Format   string `json:"format"`
	ConnStr  string `json:"conn_str"`
}

type engineConnections struct {
	Source engineConn `json:"source"`
	Dest   engineConn `json:"dest"`
}

type engineMigration struct {
	Type          string                `json:"type"`
	StartType     string                `json:"start_type"`
	TargetPrep    string                `json:"target_prep"`
	TableMappings []models.TableMapping `json:"table_mappings"`
}

type engineTarget struct {
	BucketFolder string `json:"bucket_folder,omitempty"`
	DataFormat   string `json:"data_format"`
}

// engineConfig is the document the migration engine reads from
// /app/config.json.
type engineConfig struct {
	TaskID      string            `json:"task_id"`
	Migration   engineMigration   `json:"migration"`
	Connections engineConnections `json:"connections"`
	Target      engineTarget      `json:"target"`
}

// buildConfig resolves both endpoints and renders the engine config. The
// result contains plaintext credentials and must never be logged.
func buildConfig(ctx context.Context, res resolver.Resolver, def models.JobDefinition, req jobcontrol.StartRequest) ([]byte, error) {
	srcConn, err := resolveEndpoint(ctx, res, def.Source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve source connection")
	}
	dstConn, err := resolveEndpoint(ctx, res, def.Target)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve destination connection")
	}

	srcStr, err := srcConn.GenerateConnString()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate source connection string")
	}
	dstStr, err := dstConn.GenerateConnString()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate destination connection string")
	}

	mappings := req.TableMappings
	if len(mappings) == 0 {
		mappings = def.TableMappings
	}

	cfg := engineConfig{
		TaskID: def.ID,
		Migration: engineMigration{
			Type:          string(req.Mode),
			StartType:     string(req.StartType),
			TargetPrep:    string(req.PrepPolicy),
			TableMappings: mappings,
		},
		Connections: engineConnections{
			Source: engineConn{ConnType: "Source", Format: dataFormatMap[def.Source.Engine()], ConnStr: srcStr},
			Dest:   engineConn{ConnType: "Dest", Format: dataFormatMap[def.Target.Engine()], ConnStr: dstStr},
		},
		Target: engineTarget{
			BucketFolder: def.Target.Settings().BucketFolder,
			DataFormat:   string(def.Target.Settings().DataFormat),
		},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal engine config")
	}
	return data, nil
}

func resolveEndpoint(ctx context.Context, res resolver.Resolver, ep models.Endpoint) (*models.Connection, error) {
	conn, err := res.Resolve(ctx, ep.ConnectionRef())
	if err != nil {
		return nil, err
	}
	// The endpoint's engine and database settings win over the catalogue.
	conn.Engine = ep.Engine()
	if db := ep.Settings().Database; db != "" {
		conn.DBName = db
	}
	return conn, nil
}
