package store

import (
	"context"

	"github.com/parcelwatch/parcelwatch/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (e.g., postgres, sqlite).
type Store interface {
	Users() Users
	Packages() Packages
	Sessions() Sessions
	History() History
}

type Users interface {
	Create(ctx context.Context, u *model.LoggedUser) error
	// GetByIdentifier returns the primary account with this chat-platform id.
	GetByIdentifier(ctx context.Context, id int64) (*model.LoggedUser, error)
	GetByUsername(ctx context.Context, username string) (*model.LoggedUser, error)
	// OwnerOf returns the primary account whose authorized set contains id.
	OwnerOf(ctx context.Context, secondaryID int64) (*model.LoggedUser, error)
	// Exists reports whether id is a primary account or an authorized secondary.
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]*model.LoggedUser, error)
	Update(ctx context.Context, u *model.LoggedUser) error
	UpdateBatch(ctx context.Context, users []*model.LoggedUser) error
	Delete(ctx context.Context, id int64) error
	// SetAuthorized and SetUnauthorized record a login-attempt decision.
	// Both first remove the identifier from BOTH sets so membership stays
	// exclusive.
	SetAuthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error
	SetUnauthorized(ctx context.Context, ownerID int64, s model.SecondaryUser) error
	RemoveAuthorized(ctx context.Context, ownerID, secondaryID int64) error
}

type Packages interface {
	// UpsertBatch writes the batch atomically for one user, keyed by
	// Identifier, refreshing UpdatedAt.
	UpsertBatch(ctx context.Context, pkgs []model.Package) error
	// ApplyChanges upserts the batch and appends its history records in one
	// transaction, so a crash cannot record one without the other.
	ApplyChanges(ctx context.Context, pkgs []model.Package, records []model.PackageHistory) error
	// ListPending returns every non-delivered package across all users; used
	// to seed poll snapshots at process start.
	ListPending(ctx context.Context) ([]model.Package, error)
	ListByUsername(ctx context.Context, username string) ([]model.Package, error)
	DeleteByUsername(ctx context.Context, username string) error
}

type Sessions interface {
	Upsert(ctx context.Context, s *model.ChatSession) error
	UpsertBatch(ctx context.Context, sessions []*model.ChatSession) error
	Get(ctx context.Context, chatID int64) (*model.ChatSession, error)
	Delete(ctx context.Context, chatID int64) error
	List(ctx context.Context) ([]*model.ChatSession, error)
}

type History interface {
	Append(ctx context.Context, records []model.PackageHistory) error
	ListByPackage(ctx context.Context, packageID string) ([]model.PackageHistory, error)
}
