package resolver

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/utils"
)

// StaticEntry is a connection declared in the config file. The password is
// taken from PasswordEnv when set, otherwise PasswordEnc is opened with the
// secret box.
type StaticEntry struct {
	Connection  models.Connection
	PasswordEnv string
	PasswordEnc string
}

type StaticResolver struct {
	entries map[string]StaticEntry
	box     *utils.SecretBox
	lookup  func(string) (string, bool)
}

type StaticOption func(*StaticResolver)

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(fn func(string) (string, bool)) StaticOption {
	return func(r *StaticResolver) { r.lookup = fn }
}

// WithSecretBox enables sealed passwords.
func WithSecretBox(box *utils.SecretBox) StaticOption {
	return func(r *StaticResolver) { r.box = box }
}

func NewStaticResolver(entries []StaticEntry, opts ...StaticOption) *StaticResolver {
	r := &StaticResolver{
		entries: make(map[string]StaticEntry, len(entries)),
		lookup:  os.LookupEnv,
	}
	for _, e := range entries {
		r.entries[e.Connection.Ref] = e
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *StaticResolver) Resolve(_ context.Context, ref string) (*models.Connection, error) {
	entry, ok := r.entries[ref]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRef, "ref %q", ref)
	}
	conn := entry.Connection

	switch {
	case entry.PasswordEnv != "":
		pw, ok := r.lookup(entry.PasswordEnv)
		if !ok {
			return nil, errors.Errorf("connection %q: password env %s not set", ref, entry.PasswordEnv)
		}
		conn.Password = pw
	case entry.PasswordEnc != "":
		if r.box == nil {
			return nil, errors.Errorf("connection %q: sealed password but no encryption key", ref)
		}
		pw, err := r.box.OpenString(entry.PasswordEnc)
		if err != nil {
			return nil, errors.Wrapf(err, "connection %q: open password", ref)
		}
		conn.Password = pw
	}
	return &conn, nil
}
