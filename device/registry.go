// Package device implements the device/driver registry (spec §4.5.1):
// named device and driver tables with reference counting, grounded on
// the teacher's container-state service (map + RWMutex + grpc-coded
// errors, id-collision/not-found checks on register/lookup).
package device

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

// Registry owns every Device and Driver record. External callers hold
// transient references obtained via Find*, balanced by Put.
type Registry struct {
	sync.RWMutex

	devices map[string]*domain.Device
	drivers map[string]*domain.Driver
	byMajorMinor map[[2]int]*domain.Device

	nextMajor int

	unregisterPoll time.Duration
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		devices:        make(map[string]*domain.Device),
		drivers:        make(map[string]*domain.Driver),
		byMajorMinor:   make(map[[2]int]*domain.Device),
		nextMajor:      1,
		unregisterPoll: time.Millisecond,
	}
}

// RegisterDevice assigns a major if d.Major == 0, rejects duplicate
// names, initializes RefCount to 1, and appends the device (spec
// §4.5.1). The caller's own reference is the returned count of 1.
func (r *Registry) RegisterDevice(d *domain.Device) error {
	r.Lock()
	defer r.Unlock()

	if d.Name == "" {
		return kerrors.InvalidParamf("device: empty name")
	}
	if _, ok := r.devices[d.Name]; ok {
		logrus.Errorf("device: %q already registered", d.Name)
		return kerrors.InvalidParamf("device: %q already registered", d.Name)
	}

	if d.Major == 0 {
		d.Major = r.nextMajor
		r.nextMajor++
	}

	d.RefCount = 1
	r.devices[d.Name] = d
	r.byMajorMinor[[2]int{d.Major, d.Minor}] = d

	logrus.Debugf("device: registered %q (class=%s major=%d minor=%d)", d.Name, d.Class, d.Major, d.Minor)
	return nil
}

// UnregisterDevice removes d from the lists, then blocks until its
// refcount drops back to 1 (the caller's own reference), after which
// implicit resources (DMA, IRQ binding) are released (spec §4.5.1).
func (r *Registry) UnregisterDevice(name string) error {
	r.Lock()
	d, ok := r.devices[name]
	if !ok {
		r.Unlock()
		return kerrors.NotFoundf("device: %q not found", name)
	}
	delete(r.devices, name)
	delete(r.byMajorMinor, [2]int{d.Major, d.Minor})
	r.Unlock()

	for {
		d.Lock()
		count := d.RefCount
		d.Unlock()
		if count <= 1 {
			break
		}
		time.Sleep(r.unregisterPoll)
	}

	d.Lock()
	d.DMA = nil
	d.IRQ = nil
	d.Unlock()

	logrus.Infof("device: unregistered %q", name)
	return nil
}

// FindByName increments the refcount and returns the device; every
// successful Find must be balanced by Put (spec §4.5.1).
func (r *Registry) FindByName(name string) (*domain.Device, error) {
	r.RLock()
	d, ok := r.devices[name]
	r.RUnlock()
	if !ok {
		return nil, kerrors.NotFoundf("device: %q not found", name)
	}
	d.Lock()
	d.RefCount++
	d.Unlock()
	return d, nil
}

// FindByMajorMinor is the major/minor-indexed counterpart of
// FindByName.
func (r *Registry) FindByMajorMinor(major, minor int) (*domain.Device, error) {
	r.RLock()
	d, ok := r.byMajorMinor[[2]int{major, minor}]
	r.RUnlock()
	if !ok {
		return nil, kerrors.NotFoundf("device: %d:%d not found", major, minor)
	}
	d.Lock()
	d.RefCount++
	d.Unlock()
	return d, nil
}

// Put releases a reference obtained via Find* or the initial
// RegisterDevice reference.
func (r *Registry) Put(d *domain.Device) {
	d.Lock()
	if d.RefCount > 0 {
		d.RefCount--
	}
	d.Unlock()
}

// RegisterDriver/UnregisterDriver manage drivers independently of any
// device instance (spec §3 Driver lifecycle).
func (r *Registry) RegisterDriver(drv *domain.Driver) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.drivers[drv.Name]; ok {
		return kerrors.InvalidParamf("device: driver %q already registered", drv.Name)
	}
	r.drivers[drv.Name] = drv
	return nil
}

func (r *Registry) UnregisterDriver(name string) error {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.drivers[name]; !ok {
		return kerrors.NotFoundf("device: driver %q not found", name)
	}
	delete(r.drivers, name)
	return nil
}

func (r *Registry) FindDriver(name string) (*domain.Driver, error) {
	r.RLock()
	defer r.RUnlock()
	drv, ok := r.drivers[name]
	if !ok {
		return nil, kerrors.NotFoundf("device: driver %q not found", name)
	}
	return drv, nil
}

// List and ListDrivers are read-only introspection snapshots
// (SPEC_FULL §5, 4.5a).
func (r *Registry) List() []domain.DeviceInfo {
	r.RLock()
	defer r.RUnlock()

	out := make([]domain.DeviceInfo, 0, len(r.devices))
	for _, d := range r.devices {
		d.Lock()
		out = append(out, domain.DeviceInfo{
			Name:     d.Name,
			Class:    d.Class,
			Major:    d.Major,
			Minor:    d.Minor,
			Flags:    d.Flags,
			RefCount: d.RefCount,
			HasIRQ:   d.IRQ != nil,
		})
		d.Unlock()
	}
	return out
}

func (r *Registry) ListDrivers() []domain.DriverInfo {
	r.RLock()
	defer r.RUnlock()

	out := make([]domain.DriverInfo, 0, len(r.drivers))
	for _, drv := range r.drivers {
		out = append(out, domain.DriverInfo{Name: drv.Name, Class: drv.Class})
	}
	return out
}

// Size reports the number of currently registered devices (test and
// diagnostics convenience, mirrors the teacher's ContainerDBSize).
func (r *Registry) Size() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.devices)
}
