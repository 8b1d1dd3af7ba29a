package usecase

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,128}$`)

// ErrInvalidDevice indicates a missing or malformed device identifier.
var ErrInvalidDevice = errors.New("invalid device id")

// DeviceAuthenticator is a backend handle owned by one device.
type DeviceAuthenticator interface {
	port.Authenticator
	Close()
}

// RegistryDeps holds the process-wide collaborators shared by every device.
type RegistryDeps struct {
	Stores         port.KeyValueStoreFactory
	Authenticators func(deviceID string, store port.KeyValueStore) DeviceAuthenticator
	Profiles       port.ProfileRepository
	Events         port.EventPublisher
	Notifier       CodeNotifier
	Observer       Observer
	Logger         *zap.Logger
}

// Device is the auth state of one client.
type Device struct {
	ID        string
	Customer  *CustomerAuth
	Admin     *AdminAuth
	Bootstrap *Bootstrap

	auth     DeviceAuthenticator
	start    sync.Once
	lastSeen time.Time
}

// Registry lazily builds and caches per-device flows.
type Registry struct {
	deps      RegistryDeps
	settings  Settings
	validator *Validator
	directory *Directory
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry validates settings once and returns an empty registry.
func NewRegistry(deps RegistryDeps, settings Settings) (*Registry, error) {
	if deps.Stores == nil || deps.Authenticators == nil || deps.Profiles == nil {
		return nil, errors.New("registry requires stores, authenticators, and profiles")
	}
	settings = settings.withDefaults()
	validator, err := NewValidator(settings)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Registry{
		deps:      deps,
		settings:  settings,
		validator: validator,
		directory: NewDirectory(deps.Profiles),
		logger:    deps.Logger,
		now:       time.Now,
		devices:   make(map[string]*Device),
	}, nil
}

// WithClock overrides the registry clock, primarily for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	if now != nil {
		r.now = now
	}
	return r
}

// Get returns the device, building and bootstrapping it on first use.
// It returns once the device's cached state has been restored.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Device, error) {
	if !deviceIDPattern.MatchString(deviceID) {
		return nil, ErrInvalidDevice
	}

	r.mu.Lock()
	device, ok := r.devices[deviceID]
	if !ok {
		var err error
		device, err = r.build(deviceID)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.devices[deviceID] = device
	}
	device.lastSeen = r.now()
	count := len(r.devices)
	r.mu.Unlock()

	if !ok {
		r.deps.Observer.SetActiveDevices(count)
	}
	device.start.Do(func() { device.Bootstrap.Start(ctx) })
	return device, nil
}

func (r *Registry) build(deviceID string) (*Device, error) {
	log := r.logger.With(zap.String("device_id", deviceID))
	store := r.deps.Stores(deviceID)
	auth := r.deps.Authenticators(deviceID, store)
	cache := NewSessionCache(store, log)
	refresher := NewEventRefresher(deviceID, r.deps.Events)

	customer, err := NewCustomerAuth(CustomerAuthDeps{
		DeviceID:  deviceID,
		Auth:      auth,
		Directory: r.directory,
		Cache:     cache,
		Refresher: refresher,
		Events:    r.deps.Events,
		Notifier:  r.deps.Notifier,
		Validator: r.validator,
		Observer:  r.deps.Observer,
		Logger:    log,
	}, r.settings)
	if err != nil {
		auth.Close()
		return nil, err
	}

	admin, err := NewAdminAuth(AdminAuthDeps{
		Auth:      auth,
		Directory: r.directory,
		Cache:     cache,
		Events:    r.deps.Events,
		Validator: r.validator,
		Observer:  r.deps.Observer,
		Logger:    log,
	}, r.settings)
	if err != nil {
		auth.Close()
		return nil, err
	}

	return &Device{
		ID:        deviceID,
		Customer:  customer,
		Admin:     admin,
		Bootstrap: NewBootstrap(customer, admin, auth, refresher, log),
		auth:      auth,
	}, nil
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Prune drops devices idle for longer than idle. Their durable state stays in the store
// and is restored on next use.
func (r *Registry) Prune(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*Device
	for id, device := range r.devices {
		if device.lastSeen.Before(cutoff) {
			stale = append(stale, device)
			delete(r.devices, id)
		}
	}
	count := len(r.devices)
	r.mu.Unlock()

	for _, device := range stale {
		device.close()
	}
	if len(stale) > 0 {
		r.deps.Observer.SetActiveDevices(count)
		r.logger.Debug("pruned idle devices", zap.Int("pruned", len(stale)), zap.Int("remaining", count))
	}
	return len(stale)
}

// Run prunes idle devices every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune(idle)
		}
	}
}

// Close releases every device.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	for _, device := range devices {
		device.close()
	}
	r.deps.Observer.SetActiveDevices(0)
}

func (d *Device) close() {
	d.Bootstrap.Close()
	d.auth.Close()
}
