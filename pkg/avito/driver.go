package avito

import (
	"fmt"
	"sort"
	"sync"
)

// Driver bundles the browser-driving implementations a worker process needs.
// Implementations live outside this module and register themselves from an
// init function, the same way database/sql drivers do.
type Driver struct {
	Launcher Launcher
	Detector StateDetector
	Solver   CaptchaSolver
	Catalog  CatalogParser
	Cards    CardParser
}

// DriverFactory builds a Driver at process start.
type DriverFactory func() (*Driver, error)

var (
	driversMu sync.Mutex
	drivers   = map[string]DriverFactory{}
)

// RegisterDriver makes a driver available under the given name. Registering
// twice under the same name panics, as does a nil factory.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("avito: RegisterDriver with nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic("avito: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = factory
}

// OpenDriver instantiates a registered driver and validates it is complete.
func OpenDriver(name string) (*Driver, error) {
	driversMu.Lock()
	factory, ok := drivers[name]
	driversMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown browser driver %q (registered: %v)", name, DriverNames())
	}

	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("init browser driver %q: %w", name, err)
	}
	if d == nil || d.Launcher == nil || d.Detector == nil || d.Solver == nil ||
		d.Catalog == nil || d.Cards == nil {
		return nil, fmt.Errorf("browser driver %q is incomplete", name)
	}
	return d, nil
}

// DriverNames lists the registered drivers, sorted.
func DriverNames() []string {
	driversMu.Lock()
	defer driversMu.Unlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
