// Package resolver turns opaque connection references into connection
// details. Callers must never log the returned password; models.Connection
// redacts it in String and zerolog output.
package resolver

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-replicator/internal/models"
)

var ErrUnknownRef = errors.New("unknown connection reference")

type Resolver interface {
	Resolve(ctx context.Context, ref string) (*models.Connection, error)
}
