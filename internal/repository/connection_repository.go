package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stanstork/stratum-replicator/internal/models"
)

var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionRecord is a stored connection with its password still sealed.
type ConnectionRecord struct {
	models.Connection
	PasswordEnc []byte
}

// ConnectionRepository reads the connection catalogue populated at
// provisioning time. The orchestrator never writes to it.
type ConnectionRepository interface {
	Get(ctx context.Context, ref string) (ConnectionRecord, error)
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Get(ctx context.Context, ref string) (ConnectionRecord, error) {
	const query = `
		SELECT ref, engine, host, port, username, password_enc, db_name, bucket, region, endpoint
		FROM replication.connections
		WHERE ref = $1 AND deleted_at IS NULL
	`
	var (
		rec                                        ConnectionRecord
		host, username, dbName, bucket, region, ep sql.NullString
		port                                       sql.NullInt32
	)
	err := r.db.QueryRowContext(ctx, query, ref).Scan(
		&rec.Ref,
		&rec.Engine,
		&host,
		&port,
		&username,
		&rec.PasswordEnc,
		&dbName,
		&bucket,
		&region,
		&ep,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConnectionRecord{}, ErrConnectionNotFound
		}
		return ConnectionRecord{}, err
	}

	rec.Host = host.String
	rec.Port = int(port.Int32)
	rec.Username = username.String
	rec.DBName = dbName.String
	rec.Bucket = bucket.String
	rec.Region = region.String
	rec.Endpoint = ep.String
	return rec, nil
}
