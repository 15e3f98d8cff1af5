package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/repository"
	"github.com/stanstork/stratum-replicator/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBox(t *testing.T) *utils.SecretBox {
	t.Helper()
	box, err := utils.NewSecretBox(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	return box
}

func sourceConn() models.Connection {
	return models.Connection{
		Ref:      "rds-source",
		Engine:   models.EnginePostgres,
		Host:     "db.internal",
		Port:     5432,
		Username: "replicator",
		DBName:   "shop",
	}
}

func TestStaticResolver_PasswordFromEnv(t *testing.T) {
	env := map[string]string{"SRC_PW": "hunter2"}
	r := NewStaticResolver(
		[]StaticEntry{{Connection: sourceConn(), PasswordEnv: "SRC_PW"}},
		WithEnvLookup(func(k string) (string, bool) { v, ok := env[k]; return v, ok }),
	)

	conn, err := r.Resolve(context.Background(), "rds-source")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", conn.Password)
	assert.Equal(t, "db.internal", conn.Host)
	assert.NotContains(t, conn.String(), "hunter2")
}

func TestStaticResolver_MissingEnv(t *testing.T) {
	r := NewStaticResolver(
		[]StaticEntry{{Connection: sourceConn(), PasswordEnv: "SRC_PW"}},
		WithEnvLookup(func(string) (string, bool) { return "", false }),
	)
	_, err := r.Resolve(context.Background(), "rds-source")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SRC_PW")
}

func TestStaticResolver_SealedPassword(t *testing.T) {
	box := newBox(t)
	sealed, err := box.Seal("hunter2")
	require.NoError(t, err)

	entry := StaticEntry{Connection: sourceConn(), PasswordEnc: base64.StdEncoding.EncodeToString(sealed)}

	conn, err := NewStaticResolver([]StaticEntry{entry}, WithSecretBox(box)).Resolve(context.Background(), "rds-source")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", conn.Password)

	_, err = NewStaticResolver([]StaticEntry{entry}).Resolve(context.Background(), "rds-source")
	require.Error(t, err)
}

func TestStaticResolver_UnknownRef(t *testing.T) {
	_, err := NewStaticResolver(nil).Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRef)
}

type fakeRepo struct {
	records map[string]repository.ConnectionRecord
	err     error
}

func (f *fakeRepo) Get(_ context.Context, ref string) (repository.ConnectionRecord, error) {
	if f.err != nil {
		return repository.ConnectionRecord{}, f.err
	}
	rec, ok := f.records[ref]
	if !ok {
		return repository.ConnectionRecord{}, repository.ErrConnectionNotFound
	}
	return rec, nil
}

func TestPostgresResolver(t *testing.T) {
	box := newBox(t)
	sealed, err := box.Seal("hunter2")
	require.NoError(t, err)

	repo := &fakeRepo{records: map[string]repository.ConnectionRecord{
		"rds-source": {Connection: sourceConn(), PasswordEnc: sealed},
	}}
	r := NewPostgresResolver(repo, box)

	conn, err := r.Resolve(context.Background(), "rds-source")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", conn.Password)

	_, err = r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownRef)

	repo.err = errors.New("connection refused")
	_, err = r.Resolve(context.Background(), "rds-source")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownRef)
}
