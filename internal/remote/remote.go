// Package remote defines the upstream parcel-portal contract consumed by the
// sync engine and the conversation flows.
package remote

import (
	"context"
	"errors"

	"github.com/parcelwatch/parcelwatch/internal/model"
)

// ErrSessionExpired reports that a previously obtained session path is no
// longer valid and a fresh Authenticate is required.
var ErrSessionExpired = errors.New("remote: session expired")

// ErrBadCredentials reports that the portal rejected the username/password
// pair outright.
var ErrBadCredentials = errors.New("remote: invalid credentials")

// Source is the read-only view of the upstream portal. Authenticate exchanges
// credentials for an opaque session path which FetchPackages then consumes.
type Source interface {
	Authenticate(ctx context.Context, username, password string) (sessionPath string, err error)
	FetchPackages(ctx context.Context, sessionPath, username string) ([]model.Package, error)
}
