package resolver

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/repository"
	"github.com/stanstork/stratum-replicator/internal/utils"
)

// PostgresResolver reads connections from the replication.connections
// catalogue and decrypts their passwords.
type PostgresResolver struct {
	repo repository.ConnectionRepository
	box  *utils.SecretBox
}

func NewPostgresResolver(repo repository.ConnectionRepository, box *utils.SecretBox) *PostgresResolver {
	return &PostgresResolver{repo: repo, box: box}
}

func (r *PostgresResolver) Resolve(ctx context.Context, ref string) (*models.Connection, error) {
	rec, err := r.repo.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return nil, errors.Wrapf(ErrUnknownRef, "ref %q", ref)
		}
		return nil, errors.Wrapf(err, "load connection %q", ref)
	}

	conn := rec.Connection
	if len(rec.PasswordEnc) > 0 {
		pw, err := r.box.Open(rec.PasswordEnc)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt password for %q", ref)
		}
		conn.Password = pw
	}
	return &conn, nil
}
