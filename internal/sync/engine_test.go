package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelwatch/parcelwatch/internal/bot/bottest"
	"github.com/parcelwatch/parcelwatch/internal/directory"
	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/remote"
	"github.com/parcelwatch/parcelwatch/internal/store/storetest"
	"github.com/parcelwatch/parcelwatch/internal/vault"
)

func pkg(id, status, pct string, weight float64) model.Package {
	return model.Package{
		Identifier: id,
		Username:   "ana",
		Tracking:   "TRK-" + id,
		Status:     model.PackageStatus{Description: status, Percentage: pct},
		Weight:     weight,
	}
}

func TestDiffDetectsUpdatesAndDeletes(t *testing.T) {
	snapshot := []model.Package{
		pkg("A1", "In transit", "50%", 10),
		pkg("A2", "Customs", "70%", 5),
	}
	fresh := []model.Package{
		pkg("A1", "Delivered", "100%", 10),
	}

	changes := Diff(fresh, snapshot)

	require.Len(t, changes.Updates, 1)
	assert.Equal(t, "A1", changes.Updates[0].Identifier)
	assert.Equal(t, "Delivered", changes.Updates[0].Status.Description)

	require.Len(t, changes.Deletes, 1)
	assert.Equal(t, "A2", changes.Deletes[0].Identifier)
	assert.Equal(t, model.StatusDelivered, changes.Deletes[0].Status)

	assert.Equal(t, "In transit", changes.Previous["A1"].Status.Description)
}

func TestDiffIgnoresUnchangedPackages(t *testing.T) {
	snapshot := []model.Package{pkg("A1", "In transit", "50%", 10)}
	fresh := []model.Package{pkg("A1", "In transit", "50%", 10)}

	changes := Diff(fresh, snapshot)
	assert.True(t, changes.Empty())
}

func TestDiffTimestampsDoNotTriggerChanges(t *testing.T) {
	old := pkg("A1", "In transit", "50%", 10)
	old.UpdatedAt = time.Now().Add(-time.Hour)
	renewed := pkg("A1", "In transit", "50%", 10)
	renewed.UpdatedAt = time.Now()
	renewed.DeliveredAt = time.Now()

	changes := Diff([]model.Package{renewed}, []model.Package{old})
	assert.True(t, changes.Empty())
}

func TestDiffEmptyFreshListClosesEverything(t *testing.T) {
	snapshot := []model.Package{pkg("A1", "In transit", "50%", 10), pkg("A2", "Customs", "70%", 5)}

	changes := Diff(nil, snapshot)
	assert.Empty(t, changes.Updates)
	require.Len(t, changes.Deletes, 2)
	for _, d := range changes.Deletes {
		assert.Equal(t, model.StatusDelivered, d.Status)
	}
}

func TestDiffFirstFetchIsAllUpdates(t *testing.T) {
	fresh := []model.Package{pkg("A1", "Received", "30%", 1)}
	changes := Diff(fresh, nil)
	require.Len(t, changes.Updates, 1)
	assert.Empty(t, changes.Deletes)
}

// fakeSource scripts the portal for engine tests.
type fakeSource struct {
	mu         sync.Mutex
	authErr    error
	fetchErr   error
	packages   []model.Package
	authCalls  int
	fetchCalls int
}

func (f *fakeSource) Authenticate(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return "", f.authErr
	}
	return "session-path", nil
}

func (f *fakeSource) FetchPackages(_ context.Context, _, _ string) ([]model.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.Package(nil), f.packages...), nil
}

func (f *fakeSource) set(pkgs []model.Package, fetchErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages = pkgs
	f.fetchErr = fetchErr
}

func newTestEngine(t *testing.T, src remote.Source) (*Engine, *storetest.Store, *bottest.Transport) {
	t.Helper()
	ctx := context.Background()

	st := storetest.New()
	v, err := vault.New(t.TempDir(), "test-passphrase")
	require.NoError(t, err)
	cipher, salt, err := v.Encrypt("portal-password")
	require.NoError(t, err)

	require.NoError(t, st.Users().Create(ctx, &model.LoggedUser{
		Identifier: 1, ChatIdentifier: 10, FirstName: "Ana", LanguageCode: "es",
		Username: "ana", Password: cipher, Salt: salt,
	}))

	dir := directory.New(st.Users())
	require.NoError(t, dir.Load(ctx))

	transport := bottest.New()
	fanout := notify.NewFanout(transport, notify.NewRenderer(100), 4096, 0, zerolog.Nop())

	e := NewEngine(src, st, dir, v, fanout, time.Minute, zerolog.Nop())
	require.NoError(t, e.seed(ctx))
	return e, st, transport
}

func TestCycleNotifiesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{packages: []model.Package{pkg("A1", "In transit", "50%", 10)}}
	e, st, transport := newTestEngine(t, src)

	e.Cycle(ctx)
	msgs := transport.MessagesFor(10)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "TRK-A1")

	stored, err := st.Packages().ListByUsername(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// The change also left a history record.
	hist, err := st.History().ListByPackage(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// Same list again: nothing new to say.
	e.Cycle(ctx)
	assert.Len(t, transport.MessagesFor(10), 1)
}

func TestCycleClosesVanishedPackagesSilently(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{packages: []model.Package{
		pkg("A1", "In transit", "50%", 10),
		pkg("A2", "Customs", "70%", 5),
	}}
	e, st, transport := newTestEngine(t, src)

	e.Cycle(ctx)
	require.Len(t, transport.MessagesFor(10), 1)

	// A2 disappears, A1 unchanged: persist the closure, send nothing.
	src.set([]model.Package{pkg("A1", "In transit", "50%", 10)}, nil)
	e.Cycle(ctx)
	assert.Len(t, transport.MessagesFor(10), 1)

	stored, err := st.Packages().ListByUsername(ctx, "ana")
	require.NoError(t, err)
	byID := map[string]model.Package{}
	for _, p := range stored {
		byID[p.Identifier] = p
	}
	assert.Equal(t, model.StatusDelivered, byID["A2"].Status)
}

func TestCycleFetchFailureForcesReauthentication(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{packages: []model.Package{pkg("A1", "In transit", "50%", 10)}}
	e, _, transport := newTestEngine(t, src)

	e.Cycle(ctx)
	authed := src.authCalls

	src.set(nil, remote.ErrSessionExpired)
	e.Cycle(ctx)
	// No notification for the failed cycle.
	assert.Len(t, transport.MessagesFor(10), 1)

	// Path was dropped, so the next cycle logs in again; the unchanged list
	// is not re-announced because the snapshot did not advance.
	src.set([]model.Package{pkg("A1", "In transit", "50%", 10)}, nil)
	e.Cycle(ctx)
	assert.Greater(t, src.authCalls, authed)
	assert.Len(t, transport.MessagesFor(10), 1)
}

// panicSource authenticates fine and blows up on fetch.
type panicSource struct{}

func (panicSource) Authenticate(context.Context, string, string) (string, error) {
	return "session-path", nil
}

func (panicSource) FetchPackages(context.Context, string, string) ([]model.Package, error) {
	panic("scraper went sideways")
}

func TestCycleContainsAndReportsPanics(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, panicSource{})

	var mu sync.Mutex
	var reported []error
	e.SetErrorReporter(func(_ context.Context, err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	})

	// Must return normally despite the panicking fetch.
	e.Cycle(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "panic")
	assert.Contains(t, reported[0].Error(), "ana")
}

func TestSeedPreventsReannouncingKnownPackages(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{packages: []model.Package{pkg("A1", "In transit", "50%", 10)}}

	st := storetest.New()
	v, err := vault.New(t.TempDir(), "test-passphrase")
	require.NoError(t, err)
	cipher, salt, err := v.Encrypt("portal-password")
	require.NoError(t, err)
	require.NoError(t, st.Users().Create(ctx, &model.LoggedUser{
		Identifier: 1, ChatIdentifier: 10, LanguageCode: "es", Username: "ana", Password: cipher, Salt: salt,
	}))
	// The package is already on record from a previous run.
	require.NoError(t, st.Packages().UpsertBatch(ctx, src.packages))

	dir := directory.New(st.Users())
	require.NoError(t, dir.Load(ctx))
	transport := bottest.New()
	fanout := notify.NewFanout(transport, notify.NewRenderer(100), 4096, 0, zerolog.Nop())
	e := NewEngine(src, st, dir, v, fanout, time.Minute, zerolog.Nop())
	require.NoError(t, e.seed(ctx))

	e.Cycle(ctx)
	assert.Empty(t, transport.MessagesFor(10))
}

func TestTestCredentials(t *testing.T) {
	src := &fakeSource{}
	e, _, _ := newTestEngine(t, src)

	ok, err := e.TestCredentials(context.Background(), "ana", "pw")
	require.NoError(t, err)
	assert.True(t, ok)

	src.authErr = remote.ErrBadCredentials
	ok, err = e.TestCredentials(context.Background(), "ana", "pw")
	require.NoError(t, err)
	assert.False(t, ok)

	src.authErr = errors.New("boom")
	_, err = e.TestCredentials(context.Background(), "ana", "pw")
	assert.Error(t, err)
}

func TestCurrentPackagesResolvesThroughDirectory(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{packages: []model.Package{pkg("A1", "In transit", "50%", 10)}}
	e, _, _ := newTestEngine(t, src)

	e.Cycle(ctx)

	pkgs, ok := e.CurrentPackages(1)
	require.True(t, ok)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "A1", pkgs[0].Identifier)

	_, ok = e.CurrentPackages(99)
	assert.False(t, ok)
}
