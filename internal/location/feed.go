// Package location turns position and compass readings pushed by the device
// shell into the sensor providers the engine consumes.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
)

// Feed holds the latest readings. It implements geoquest.LocationProvider
// and geoquest.HeadingProvider.
type Feed struct {
	mu         sync.RWMutex
	granted    bool
	fix        *geo.Coordinate
	heading    float64
	hasHeading bool
}

// NewFeed returns a feed with location permission granted and no fix.
func NewFeed() *Feed {
	return &Feed{granted: true}
}

// Update records a new position fix.
func (f *Feed) Update(c geo.Coordinate) {
	f.mu.Lock()
	f.fix = &c
	f.mu.Unlock()
}

// SetPermission records whether the user allows location access. Revoking
// permission ends running position watches.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	f.granted = granted
	f.mu.Unlock()
}

// UpdateHeading records a compass heading in degrees.
func (f *Feed) UpdateHeading(deg float64) {
	f.mu.Lock()
	f.heading = deg
	f.hasHeading = true
	f.mu.Unlock()
}

// UpdateField records a raw magnetometer reading.
func (f *Feed) UpdateField(x, y float64) {
	f.UpdateHeading(geo.HeadingFromField(x, y))
}

// Permission reports whether location access is granted.
func (f *Feed) Permission() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.granted
}

// Heading returns the latest heading, if any.
func (f *Feed) Heading() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.heading, f.hasHeading
}

// Current returns the latest fix.
func (f *Feed) Current(context.Context) (geo.Coordinate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.granted {
		return geo.Coordinate{}, geoquest.ErrPermissionDenied
	}
	if f.fix == nil {
		return geo.Coordinate{}, geoquest.ErrNoFix
	}
	return *f.fix, nil
}

// WatchPosition emits the latest fix every interval until ctx ends or
// permission is revoked, then closes the channel.
func (f *Feed) WatchPosition(ctx context.Context, every time.Duration) (<-chan geo.Coordinate, error) {
	if !f.Permission() {
		return nil, geoquest.ErrPermissionDenied
	}
	out := make(chan geo.Coordinate, 1)
	go sample(ctx, every, out, func() (geo.Coordinate, bool, bool) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if !f.granted {
			return geo.Coordinate{}, false, false
		}
		if f.fix == nil {
			return geo.Coordinate{}, false, true
		}
		return *f.fix, true, true
	})
	return out, nil
}

// WatchHeading emits the latest heading every interval until ctx ends.
func (f *Feed) WatchHeading(ctx context.Context, every time.Duration) (<-chan float64, error) {
	out := make(chan float64, 1)
	go sample(ctx, every, out, func() (float64, bool, bool) {
		h, ok := f.Heading()
		return h, ok, true
	})
	return out, nil
}

// sample polls read on every tick. read reports the value, whether one is
// available, and whether the watch should continue.
func sample[T any](ctx context.Context, every time.Duration, out chan<- T, read func() (T, bool, bool)) {
	defer close(out)

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		v, ok, more := read()
		if !more {
			return
		}
		if ok {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
