package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/auth"
	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the device directory. It wraps a Repository with an
// in-memory cache and implements dispatch.Directory.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every write that goes through the Registry.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

var _ dispatch.Directory = (*Registry)(nil)

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices returns all cached devices ordered by ID.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// ListByOwner returns the cached devices owned by one user, ordered by ID.
func (r *Registry) ListByOwner(ownerID string) []Device {
	all := r.ListDevices()
	out := make([]Device, 0, len(all))
	for i := range all {
		if all[i].OwnerID == ownerID {
			out = append(out, all[i])
		}
	}
	return out
}

// Provision validates and stores a new device and returns its connection
// token. The token is not recoverable afterwards; only its hash is kept.
func (r *Registry) Provision(ctx context.Context, device *Device) (string, error) {
	if err := ValidateDevice(device); err != nil {
		return "", err
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return "", fmt.Errorf("hashing device token: %w", err)
	}
	device.TokenHash = hash

	if err := r.repo.Create(ctx, device); err != nil {
		return "", err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device provisioned", "device_id", device.ID, "owner_id", device.OwnerID)
	return token, nil
}

// RotateToken issues a new connection token for an existing device.
// Live connections are not dropped; the old token stops working for new ones.
func (r *Registry) RotateToken(ctx context.Context, id string) (string, error) {
	if _, err := r.GetDevice(ctx, id); err != nil {
		return "", err
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return "", fmt.Errorf("hashing device token: %w", err)
	}
	if err := r.repo.UpdateTokenHash(ctx, id, hash); err != nil {
		return "", err
	}

	r.mutateCached(id, func(d *Device) { d.TokenHash = hash })
	r.logger.Info("device token rotated", "device_id", id)
	return token, nil
}

// SetOwner reassigns a device.
func (r *Registry) SetOwner(ctx context.Context, id, ownerID string) error {
	if err := r.repo.UpdateOwner(ctx, id, ownerID); err != nil {
		return err
	}
	r.mutateCached(id, func(d *Device) { d.OwnerID = ownerID })
	return nil
}

// DeleteDevice removes a device by ID.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	return nil
}

// Authenticate checks a device's connection credentials. Unknown devices,
// devices without a token and wrong tokens all return ErrInvalidCredentials.
func (r *Registry) Authenticate(ctx context.Context, id, token string) (*Device, error) {
	if id == "" || token == "" {
		return nil, ErrInvalidCredentials
	}

	device, err := r.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if device.TokenHash == "" {
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.VerifySecret(token, device.TokenHash)
	if err != nil {
		r.logger.Warn("stored device token hash unreadable", "device_id", id, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return device, nil
}

// UpdateStatus mirrors a status transition or heartbeat into the store.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status dispatch.Status, lastSeen time.Time, metadataPatch map[string]any) error {
	patch := PatchFromMetrics(metadataPatch)
	if err := r.repo.UpdateStatus(ctx, id, status, lastSeen, patch); err != nil {
		return err
	}

	seen := lastSeen.UTC().Truncate(time.Second)
	r.mutateCached(id, func(d *Device) {
		d.Status = status
		d.LastSeen = &seen
		if patch.BatteryLevel != nil {
			v := *patch.BatteryLevel
			d.BatteryLevel = &v
		}
		if patch.SignalStrength != nil {
			v := *patch.SignalStrength
			d.SignalStrength = &v
		}
	})
	return nil
}

// FindOwner returns the owner of a device, or "" if it has none.
func (r *Registry) FindOwner(ctx context.Context, id string) (string, error) {
	device, err := r.GetDevice(ctx, id)
	if err != nil {
		return "", err
	}
	return device.OwnerID, nil
}

// mutateCached applies fn to the cached copy, if any.
func (r *Registry) mutateCached(id string, fn func(*Device)) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if d, ok := r.cache[id]; ok {
		fn(d)
		d.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	}
}
