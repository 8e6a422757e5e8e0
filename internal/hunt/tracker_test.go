package hunt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/playperu/geoquest/internal/geo"
	"github.com/playperu/geoquest/internal/geoquest"
	"github.com/playperu/geoquest/internal/location"
)

var (
	step1 = &geoquest.Step{ID: "s1", Number: 1, Hint: "Fountain", Latitude: -12.0464, Longitude: -77.0428}
	step2 = &geoquest.Step{ID: "s2", Number: 2, Hint: "Cathedral", Latitude: -12.0500, Longitude: -77.0400}
)

// offset returns a point meters north of s.
func offset(s *geoquest.Step, meters float64) geo.Coordinate {
	return geo.Coordinate{Latitude: s.Latitude + meters/111195.0, Longitude: s.Longitude}
}

type fakeBackend struct {
	mu        sync.Mutex
	hunt      geoquest.Hunt
	results   []geoquest.StepResult
	submitted []geo.Coordinate
	abandoned []string
	err       error
}

func (f *fakeBackend) Hunt(context.Context, string) (geoquest.Hunt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hunt, f.err
}

func (f *fakeBackend) SubmitHuntScan(_ context.Context, _, _ string, at geo.Coordinate) (geoquest.StepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return geoquest.StepResult{}, f.err
	}
	f.submitted = append(f.submitted, at)
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeBackend) AbandonHunt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, id)
	return nil
}

var testConfig = Config{
	Proximity:       50,
	PositionEvery:   2 * time.Millisecond,
	HeadingEvery:    2 * time.Millisecond,
	CompletionDelay: 20 * time.Millisecond,
}

func openTracker(t *testing.T, api *fakeBackend, feed *location.Feed) *Tracker {
	t.Helper()
	tr, err := Open(context.Background(), api, feed, feed, "h1", testConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

// waitState polls until cond holds.
func waitState(t *testing.T, tr *Tracker, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := tr.State(); cond(s) {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached, state = %+v", tr.State())
	return State{}
}

func near(d *float64, want float64) bool {
	return d != nil && math.Abs(*d-want) < 1
}

func TestProximityGateAndAdvance(t *testing.T) {
	api := &fakeBackend{
		hunt:    geoquest.Hunt{ID: "h1", Name: "Lima Centro", CurrentStep: step1},
		results: []geoquest.StepResult{{Status: geoquest.StepSuccess, NextStep: step2}},
	}
	feed := location.NewFeed()
	tr := openTracker(t, api, feed)

	if tr.CanScan() {
		t.Fatal("scan enabled before any fix")
	}

	feed.Update(offset(step1, 60))
	s := waitState(t, tr, func(s State) bool { return near(s.Distance, 60) })
	if s.CanScan {
		t.Error("scan enabled at 60 m")
	}
	if _, err := tr.SubmitScan(context.Background(), "qr-1"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if len(api.submitted) != 0 {
		t.Error("out-of-range scan reached the backend")
	}

	feed.Update(offset(step1, 40))
	s = waitState(t, tr, func(s State) bool { return near(s.Distance, 40) })
	if !s.CanScan {
		t.Fatal("scan disabled at 40 m")
	}
	if s.Bearing == nil || math.Abs(*s.Bearing-180) > 0.5 {
		t.Errorf("bearing = %v, want ~180", s.Bearing)
	}

	out, err := tr.SubmitScan(context.Background(), "qr-1")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if out.Status != geoquest.StepSuccess || out.NextStep.ID != "s2" {
		t.Errorf("outcome = %+v", out)
	}

	s = tr.State()
	if s.CurrentStep == nil || s.CurrentStep.ID != "s2" {
		t.Fatalf("current step = %+v, want s2", s.CurrentStep)
	}
	want := geo.DistanceMeters(offset(step1, 40), step2.Target())
	if !near(s.Distance, want) {
		t.Errorf("distance = %v, want %v against the new step", s.Distance, want)
	}
	if s.CanScan {
		t.Error("scan enabled while far from the new step")
	}

	feed.Update(offset(step2, 10))
	waitState(t, tr, func(s State) bool { return s.CanScan })
}

func TestCompletion(t *testing.T) {
	api := &fakeBackend{
		hunt:    geoquest.Hunt{ID: "h1", CurrentStep: step1},
		results: []geoquest.StepResult{{Status: geoquest.StepCompleted, Reward: 250, Message: "Hunt complete"}},
	}
	feed := location.NewFeed()
	feed.Update(offset(step1, 5))
	tr := openTracker(t, api, feed)
	waitState(t, tr, func(s State) bool { return s.CanScan })

	out, err := tr.SubmitScan(context.Background(), "final")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if out.Reward != 250 {
		t.Errorf("reward = %d", out.Reward)
	}
	s := tr.State()
	if s.CurrentStep != nil || !s.Completed || s.CanScan || s.Distance != nil {
		t.Errorf("state = %+v", s)
	}

	select {
	case <-tr.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("Finished not closed after completion delay")
	}

	if _, err := tr.SubmitScan(context.Background(), "again"); !errors.Is(err, ErrHuntComplete) {
		t.Errorf("err = %v, want ErrHuntComplete", err)
	}
}

func TestFailuresLeaveStateUnchanged(t *testing.T) {
	api := &fakeBackend{
		hunt:    geoquest.Hunt{ID: "h1", CurrentStep: step1},
		results: []geoquest.StepResult{{Status: "error"}},
	}
	feed := location.NewFeed()
	feed.Update(offset(step1, 5))
	tr := openTracker(t, api, feed)
	waitState(t, tr, func(s State) bool { return s.CanScan })

	_, err := tr.SubmitScan(context.Background(), "wrong")
	var rej *geoquest.RejectedError
	if !errors.As(err, &rej) || rej.Message != failedScanMessage {
		t.Fatalf("err = %v, want rejection with default message", err)
	}
	if s := tr.State(); s.CurrentStep.ID != "s1" {
		t.Errorf("step changed to %s", s.CurrentStep.ID)
	}

	api.mu.Lock()
	api.err = geoquest.ErrNetwork
	api.mu.Unlock()
	if _, err := tr.SubmitScan(context.Background(), "x"); !errors.Is(err, geoquest.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if s := tr.State(); s.CurrentStep.ID != "s1" || !s.CanScan {
		t.Errorf("state after network failure = %+v", s)
	}
}

func TestHeadingArrow(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	feed.Update(offset(step1, 100))
	feed.UpdateHeading(90)
	tr := openTracker(t, api, feed)

	s := waitState(t, tr, func(s State) bool { return s.Heading == 90 && s.Arrow != nil })
	if math.Abs(*s.Arrow-90) > 0.5 {
		t.Errorf("arrow = %v, want ~90 (target due south, facing east)", *s.Arrow)
	}
}

func TestPermissionDenied(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	feed.SetPermission(false)
	tr := openTracker(t, api, feed)

	if s := tr.State(); s.Err == "" || s.CanScan {
		t.Errorf("state = %+v, want permission error", s)
	}
}

func TestPermissionRevokedMidHunt(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	feed.Update(offset(step1, 5))
	tr := openTracker(t, api, feed)
	waitState(t, tr, func(s State) bool { return s.CanScan })

	feed.SetPermission(false)
	s := waitState(t, tr, func(s State) bool { return s.Err != "" })
	if s.CanScan {
		t.Error("scan still enabled after permission was revoked")
	}
	if _, err := tr.SubmitScan(context.Background(), "x"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("scan without permission err = %v, want ErrOutOfRange", err)
	}

	feed.SetPermission(true)
	feed.Update(offset(step1, 10))
	s = waitState(t, tr, func(s State) bool { return s.CanScan && s.Err == "" && near(s.Distance, 10) })
	if s.Bearing == nil {
		t.Error("bearing not recomputed after permission was granted again")
	}
}

func TestPermissionGrantedAfterOpen(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	feed.SetPermission(false)
	tr := openTracker(t, api, feed)

	if s := tr.State(); s.Err == "" || s.CanScan {
		t.Fatalf("state without permission = %+v", s)
	}

	feed.SetPermission(true)
	feed.Update(offset(step1, 5))
	waitState(t, tr, func(s State) bool { return s.CanScan && s.Err == "" })
}

func TestAbandonCloses(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	tr := openTracker(t, api, feed)

	if err := tr.Abandon(context.Background()); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if len(api.abandoned) != 1 || api.abandoned[0] != "h1" {
		t.Errorf("abandoned = %v", api.abandoned)
	}
	select {
	case <-tr.Finished():
	default:
		t.Error("Finished not closed after Abandon")
	}
	if _, err := tr.SubmitScan(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	tr.Close()
}

func TestOpenFailure(t *testing.T) {
	api := &fakeBackend{err: geoquest.ErrNetwork}
	_, err := Open(context.Background(), api, location.NewFeed(), nil, "h1", testConfig, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, geoquest.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestRegistry(t *testing.T) {
	api := &fakeBackend{hunt: geoquest.Hunt{ID: "h1", CurrentStep: step1}}
	feed := location.NewFeed()
	r := NewRegistry()

	first := openTracker(t, api, feed)
	r.Add(first)
	if got, ok := r.Get("h1"); !ok || got != first {
		t.Fatal("tracker not registered")
	}

	second := openTracker(t, api, feed)
	r.Add(second)
	select {
	case <-first.Finished():
	default:
		t.Error("replaced tracker was not closed")
	}

	if !r.Remove("h1") {
		t.Error("Remove reported nothing removed")
	}
	if _, ok := r.Get("h1"); ok {
		t.Error("tracker still registered after Remove")
	}
	select {
	case <-second.Finished():
	default:
		t.Error("removed tracker was not closed")
	}
	r.CloseAll()
}
