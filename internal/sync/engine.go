// Package sync runs the background poll loop: authenticate each registered
// account against the portal, fetch its packages, diff against the previous
// snapshot, persist the changes and fan out notifications.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcelwatch/parcelwatch/internal/directory"
	"github.com/parcelwatch/parcelwatch/internal/model"
	"github.com/parcelwatch/parcelwatch/internal/notify"
	"github.com/parcelwatch/parcelwatch/internal/remote"
	"github.com/parcelwatch/parcelwatch/internal/store"
	"github.com/parcelwatch/parcelwatch/internal/vault"
)

// Engine coordinates one poll cycle per interval across all users. Per-user
// work inside a cycle runs concurrently; state is guarded by mu.
type Engine struct {
	source   remote.Source
	store    store.Store
	dir      *directory.Directory
	vault    *vault.Vault
	fanout   *notify.Fanout
	interval time.Duration
	log      zerolog.Logger
	report   func(ctx context.Context, err error)

	mu        sync.Mutex
	snapshots map[string][]model.Package // username -> last successful fetch
	paths     map[string]string          // username -> portal session path
}

func NewEngine(source remote.Source, st store.Store, dir *directory.Directory, v *vault.Vault, fanout *notify.Fanout, interval time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		source:    source,
		store:     st,
		dir:       dir,
		vault:     v,
		fanout:    fanout,
		interval:  interval,
		log:       log.With().Str("component", "sync").Logger(),
		snapshots: make(map[string][]model.Package),
		paths:     make(map[string]string),
	}
}

// SetErrorReporter routes cycle failures and recovered panics to fn, on top
// of the structured log. Typically wired to the bot's error channel.
func (e *Engine) SetErrorReporter(fn func(ctx context.Context, err error)) {
	e.report = fn
}

// Run seeds snapshots from the store and polls until ctx is cancelled. A
// restart must not re-announce already known packages, so the seed uses every
// non-delivered package on record.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.seed(ctx); err != nil {
		return err
	}
	e.log.Info().Dur("interval", e.interval).Msg("sync engine started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("sync engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

func (e *Engine) seed(ctx context.Context) error {
	pending, err := e.store.Packages().ListPending(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range pending {
		e.snapshots[p.Username] = append(e.snapshots[p.Username], p)
	}
	return nil
}

// Cycle performs one full poll pass. Exported so tests and the admin CLI can
// drive the engine without the ticker. A panic anywhere in the pass, per-user
// goroutines included, is contained and reported instead of killing the
// process.
func (e *Engine) Cycle(ctx context.Context) {
	defer e.recoverPanic(ctx, "poll cycle")

	rosters := e.dir.Rosters()
	e.pruneDeparted(rosters)
	e.authenticateMissing(ctx, rosters)

	var wg sync.WaitGroup
	for _, r := range rosters {
		e.mu.Lock()
		path, ok := e.paths[r.User.Username]
		e.mu.Unlock()
		if !ok {
			continue
		}
		wg.Add(1)
		go func(r directory.Roster, path string) {
			defer wg.Done()
			defer e.recoverPanic(ctx, "sync of "+r.User.Username)
			e.syncUser(ctx, r, path)
		}(r, path)
	}
	wg.Wait()
}

// recoverPanic converts a panic into a reported error so one misbehaving
// account cannot take down the poll loop.
func (e *Engine) recoverPanic(ctx context.Context, op string) {
	if r := recover(); r != nil {
		e.reportError(ctx, fmt.Errorf("panic during %s: %v", op, r))
	}
}

func (e *Engine) reportError(ctx context.Context, err error) {
	e.log.Error().Err(err).Msg("poll cycle failure")
	if e.report != nil {
		e.report(ctx, err)
	}
}

// pruneDeparted drops engine state for accounts that no longer exist.
func (e *Engine) pruneDeparted(rosters []directory.Roster) {
	active := make(map[string]struct{}, len(rosters))
	for _, r := range rosters {
		active[r.User.Username] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for username := range e.paths {
		if _, ok := active[username]; !ok {
			delete(e.paths, username)
			delete(e.snapshots, username)
		}
	}
	for username := range e.snapshots {
		if _, ok := active[username]; !ok {
			delete(e.snapshots, username)
		}
	}
}

// authenticateMissing logs in, concurrently, every account without a live
// session path. Failures are logged and retried next cycle.
func (e *Engine) authenticateMissing(ctx context.Context, rosters []directory.Roster) {
	var wg sync.WaitGroup
	for _, r := range rosters {
		e.mu.Lock()
		_, ok := e.paths[r.User.Username]
		e.mu.Unlock()
		if ok {
			continue
		}
		wg.Add(1)
		go func(u *model.LoggedUser) {
			defer wg.Done()
			defer e.recoverPanic(ctx, "login of "+u.Username)
			password, err := e.vault.Decrypt(u.Password, u.Salt)
			if err != nil {
				e.log.Error().Err(err).Str("account", u.Username).Msg("cannot decrypt stored password")
				return
			}
			path, err := e.source.Authenticate(ctx, u.Username, password)
			if err != nil {
				e.log.Warn().Err(err).Str("account", u.Username).Msg("portal login failed")
				return
			}
			e.mu.Lock()
			e.paths[u.Username] = path
			e.mu.Unlock()
		}(r.User)
	}
	wg.Wait()
}

// syncUser runs fetch → diff → persist → notify for one account. The
// snapshot advances only after a successful fetch.
func (e *Engine) syncUser(ctx context.Context, r directory.Roster, path string) {
	username := r.User.Username
	fresh, err := e.source.FetchPackages(ctx, path, username)
	if err != nil {
		// Dropping the path forces a fresh login next cycle.
		e.mu.Lock()
		delete(e.paths, username)
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("account", username).Msg("package fetch failed")
		return
	}

	e.mu.Lock()
	snapshot := e.snapshots[username]
	changes := Diff(fresh, snapshot)
	e.snapshots[username] = fresh
	e.mu.Unlock()

	if changes.Empty() {
		return
	}
	if err := e.persist(ctx, changes); err != nil {
		e.reportError(ctx, fmt.Errorf("persist changes for %s: %w", username, err))
		return
	}
	e.fanout.DeliverChanges(ctx, r.Groups, changes)
}

// persist writes updates plus status-forced deletes together with one history
// record per changed package, in a single transaction.
func (e *Engine) persist(ctx context.Context, changes model.ChangeSet) error {
	batch := make([]model.Package, 0, len(changes.Updates)+len(changes.Deletes))
	batch = append(batch, changes.Updates...)
	batch = append(batch, changes.Deletes...)

	now := time.Now().UTC()
	records := make([]model.PackageHistory, 0, len(batch))
	for _, p := range batch {
		records = append(records, model.PackageHistory{
			PackageID:  p.Identifier,
			Status:     p.Status,
			Weight:     p.Weight,
			RecordedAt: now,
		})
	}
	return e.store.Packages().ApplyChanges(ctx, batch, records)
}

// Diff compares a fresh fetch with the previous snapshot. Updates are fresh
// items with no structurally equal counterpart; deletes are snapshot items
// whose identifier disappeared entirely, forced to the terminal delivered
// status.
func Diff(fresh, snapshot []model.Package) model.ChangeSet {
	previous := make(map[string]model.Package, len(snapshot))
	for _, p := range snapshot {
		previous[p.Identifier] = p
	}
	freshIDs := make(map[string]struct{}, len(fresh))
	for _, p := range fresh {
		freshIDs[p.Identifier] = struct{}{}
	}

	var updates []model.Package
	for _, p := range fresh {
		prev, ok := previous[p.Identifier]
		if !ok || !p.Equal(prev) {
			updates = append(updates, p)
		}
	}

	var deletes []model.Package
	for _, p := range snapshot {
		if _, ok := freshIDs[p.Identifier]; !ok {
			p.Status = model.StatusDelivered
			deletes = append(deletes, p)
		}
	}

	return model.ChangeSet{Updates: updates, Deletes: deletes, Previous: previous}
}

// TestCredentials checks a username/password pair against the portal without
// touching engine state.
func (e *Engine) TestCredentials(ctx context.Context, username, password string) (bool, error) {
	_, err := e.source.Authenticate(ctx, username, password)
	if errors.Is(err, remote.ErrBadCredentials) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LoginAndFetch signs in with explicit credentials, remembers the session
// path and returns the account's current package list. Used right after a
// successful registration.
func (e *Engine) LoginAndFetch(ctx context.Context, username, password string) ([]model.Package, error) {
	path, err := e.source.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	pkgs, err := e.source.FetchPackages(ctx, path, username)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.paths[username] = path
	e.snapshots[username] = pkgs
	e.mu.Unlock()
	return pkgs, nil
}

// CurrentPackages returns the latest snapshot for the account that chat user
// id resolves to.
func (e *Engine) CurrentPackages(id int64) ([]model.Package, bool) {
	u, ok := e.dir.Primary(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Package(nil), e.snapshots[u.Username]...), true
}

// Forget drops engine state for one account, typically after a stop cascade.
func (e *Engine) Forget(username string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.paths, username)
	delete(e.snapshots, username)
}
