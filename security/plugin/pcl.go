package plugin

import (
	"sync"

	"github.com/sage-x-project/ddsec/security/errs"
)

// Config names the three plugin implementations to load and the paths
// each one needs (identity store, keystore, governance documents). A
// plugin left as nil leaves the corresponding operations at the "not
// configured" path (§7 KindNotConfigured): the core still runs, with
// whatever reduced guarantee that implies.
type Config struct {
	Authentication Authentication
	AccessControl  AccessControl
	Crypto         Crypto

	IdentityCertPath string
	PrivateKeyPath   string
	TrustedCADir     string
	PermissionsPath  string
	GovernancePath   string
}

// Capabilities is the loaded, installed plugin set the rest of the
// security core is built against. It is installed exactly once under
// one lock (Load) and torn down exactly once (Unload); every other
// package receives it by reference and never mutates it.
type Capabilities struct {
	mu sync.RWMutex

	auth   Authentication
	access AccessControl
	crypto Crypto
	cfg    Config

	loaded bool
}

// Load installs cfg's plugins under a single lock, matching the
// teacher's registry-under-one-lock pattern (crypto.Manager, generalized
// from one storage backend to three plugin capabilities). Load is not
// idempotent: calling it twice without an intervening Unload is a
// programmer error and returns KindInternal.
func (c *Capabilities) Load(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return errs.New(errs.KindInternal, "plugin capabilities already loaded", nil)
	}
	c.auth = cfg.Authentication
	c.access = cfg.AccessControl
	c.crypto = cfg.Crypto
	c.cfg = cfg
	c.loaded = true
	return nil
}

// Unload releases the installed plugins. Callers must have already
// unregistered every handle issued against them (EMT.DestroyAll only
// removes and returns the table's entries; it unregisters nothing);
// Unload itself holds no handle bookkeeping.
func (c *Capabilities) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return errs.New(errs.KindInternal, "plugin capabilities not loaded", nil)
	}
	c.auth, c.access, c.crypto = nil, nil, nil
	c.loaded = false
	return nil
}

// Auth returns the installed Authentication plugin, or nil if none was
// configured.
func (c *Capabilities) Auth() Authentication {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// Access returns the installed AccessControl plugin, or nil if none was
// configured.
func (c *Capabilities) Access() AccessControl {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// CryptoPlugin returns the installed Crypto plugin, or nil if none was
// configured. Named to avoid colliding with the stdlib crypto package at
// call sites that import both.
func (c *Capabilities) CryptoPlugin() Crypto {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crypto
}

// Config returns the configuration Load installed.
func (c *Capabilities) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Ready reports whether all three plugins are present. Components that
// require the full set (PSS participant admission) check this up front
// and return errs.NotConfigured when it's false.
func (c *Capabilities) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded && c.auth != nil && c.access != nil && c.crypto != nil
}
