package avito

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopDetector struct{}

func (nopDetector) Detect(context.Context, Page) (PageState, error) { return StateCardFound, nil }

type nopSolver struct{}

func (nopSolver) Resolve(context.Context, Page) (bool, error) { return true, nil }

type nopCatalog struct{}

func (nopCatalog) ParseUntilComplete(context.Context, ParseRequest) (*CatalogResult, error) {
	return &CatalogResult{Status: CatalogSuccess}, nil
}

type nopCards struct{}

func (nopCards) ParseCard(context.Context, string) (*CardDetails, error) {
	return &CardDetails{}, nil
}

type nopLauncher struct{}

func (nopLauncher) Launch(context.Context, ProxyConfig) (Session, error) { return nil, nil }

func completeDriver() *Driver {
	return &Driver{
		Launcher: nopLauncher{},
		Detector: nopDetector{},
		Solver:   nopSolver{},
		Catalog:  nopCatalog{},
		Cards:    nopCards{},
	}
}

func TestOpenDriverUnknown(t *testing.T) {
	_, err := OpenDriver("no-such-driver")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown browser driver")
}

func TestRegisterAndOpenDriver(t *testing.T) {
	RegisterDriver("test-complete", func() (*Driver, error) {
		return completeDriver(), nil
	})

	d, err := OpenDriver("test-complete")
	require.NoError(t, err)
	assert.NotNil(t, d.Launcher)

	assert.Contains(t, DriverNames(), "test-complete")
}

func TestOpenDriverIncomplete(t *testing.T) {
	RegisterDriver("test-incomplete", func() (*Driver, error) {
		d := completeDriver()
		d.Solver = nil
		return d, nil
	})

	_, err := OpenDriver("test-incomplete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestOpenDriverFactoryError(t *testing.T) {
	boom := errors.New("no browser on host")
	RegisterDriver("test-failing", func() (*Driver, error) {
		return nil, boom
	})

	_, err := OpenDriver("test-failing")
	assert.ErrorIs(t, err, boom)
}

func TestRegisterDriverPanicsOnDuplicate(t *testing.T) {
	RegisterDriver("test-dup", func() (*Driver, error) { return completeDriver(), nil })
	assert.Panics(t, func() {
		RegisterDriver("test-dup", func() (*Driver, error) { return completeDriver(), nil })
	})
}
