// Package vault implements the encrypted credential vault:
// N account configs persisted in a file encrypted with a PBKDF2-stretched
// AES-256-CBC key, decrypted and parsed at load, and watched for
// operator-driven rotation on disk.
package vault

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"github.com/go-logr/logr"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
)

// Vault holds the decrypted, parsed set of account configs for the process
// lifetime, reloading from disk when the backing file changes.
type Vault struct {
	cfg    config.VaultConfig
	secret []byte
	log    logr.Logger

	mu       sync.RWMutex
	byName   map[string]*Account
	ordered  []*Account // cached priority-ascending order

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Load decrypts and parses path under secret, enforcing priority uniqueness
// and defaulting every account to isActive=true. If cfg.WatchForChange is
// set, the vault starts an fsnotify watch that reloads on any write to the
// file (operator-driven credential rotation).
func Load(ctx context.Context, cfg config.VaultConfig, secret []byte, log logr.Logger) (*Vault, error) {
	v := &Vault{cfg: cfg, secret: secret, log: log}
	if err := v.reload(); err != nil {
		return nil, err
	}

	if cfg.WatchForChange {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, errors.Wrap(err, "vault: new watcher")
		}
		if err := w.Add(cfg.Path); err != nil {
			w.Close()
			return nil, errors.Wrap(err, "vault: watch path")
		}
		v.watcher = w
		wctx, cancel := context.WithCancel(ctx)
		v.cancel = cancel
		v.done = make(chan struct{})
		go v.watchLoop(wctx)
	}

	return v, nil
}

func (v *Vault) watchLoop(ctx context.Context) {
	defer close(v.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := v.reload(); err != nil {
					v.log.Error(err, "vault: reload after file change failed, keeping previous state")
				} else {
					v.log.Info("vault: reloaded accounts after file change")
				}
			}
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			v.log.Error(err, "vault: watcher error")
		}
	}
}

func (v *Vault) reload() error {
	blob, err := os.ReadFile(v.cfg.Path)
	if err != nil {
		return errors.Wrap(err, "vault: read credentials file")
	}
	plaintext, err := decrypt(v.secret, blob, v.cfg.KDFIterations)
	if err != nil {
		return errors.Wrap(err, "vault: decrypt credentials file")
	}

	var records []accountRecord
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return errors.Wrap(err, "vault: parse credentials")
	}

	byName := make(map[string]*Account, len(records))
	seenPriority := make(map[int]string, len(records))
	for _, r := range records {
		if other, dup := seenPriority[r.Priority]; dup {
			return errors.Errorf("vault: duplicate priority %d (accounts %q and %q)", r.Priority, other, r.Username)
		}
		seenPriority[r.Priority] = r.Username
		byName[r.Username] = newAccount(r)
	}
	if len(byName) == 0 {
		return errors.New("vault: no accounts in credentials file")
	}

	ordered := make([]*Account, 0, len(byName))
	for _, a := range byName {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	v.mu.Lock()
	defer v.mu.Unlock()
	v.byName = byName
	v.ordered = ordered
	return nil
}

// ListAccounts returns every account ordered by ascending priority.
func (v *Vault) ListAccounts() []*Account {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*Account, len(v.ordered))
	copy(out, v.ordered)
	return out
}

// Get returns the named account, if known.
func (v *Vault) Get(username string) (*Account, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	a, ok := v.byName[username]
	return a, ok
}

// MarkActive marks the named account active, if known.
func (v *Vault) MarkActive(username string) {
	if a, ok := v.Get(username); ok {
		a.SetActive(true)
	}
}

// MarkInactive marks the named account inactive, if known.
func (v *Vault) MarkInactive(username string) {
	if a, ok := v.Get(username); ok {
		a.SetActive(false)
	}
}

// RecordHealth sets the named account's health score directly (an absolute
// value as produced by the health monitor's EWMA, not a delta).
func (v *Vault) RecordHealth(username string, score float64) {
	if a, ok := v.Get(username); ok {
		a.SetHealth(score)
	}
}

// Close stops the file watcher, if one is running.
func (v *Vault) Close() error {
	if v.watcher == nil {
		return nil
	}
	v.cancel()
	err := v.watcher.Close()
	<-v.done
	return err
}

// Seal encrypts records under secret and writes them to path — the
// operator-side counterpart to Load, exposed so the outer runtime (or a
// provisioning tool) can produce a vault file without duplicating the
// crypto.
func Seal(path string, secret []byte, iterations int, specs []Spec) error {
	records := make([]accountRecord, len(specs))
	for i, s := range specs {
		records[i] = accountRecord{Username: s.Username, Priority: s.Priority, DSN: s.DSN, Params: s.Params}
	}
	plaintext, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "vault: marshal records")
	}
	blob, err := encrypt(secret, plaintext, iterations)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
