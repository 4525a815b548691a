package observer

import (
	"context"
	"testing"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

type testLogger struct{ lines []string }

func (l *testLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, format)
}

// fakeStore is an in-memory double satisfying the Store interface,
// enough to drive the classification scenarios from §8 S1-S5 without
// a real database.
type fakeStore struct {
	notify       map[frame.MAC]store.NotifyRow
	latest       map[frame.MAC]store.Reading
	thresh       map[frame.MAC]store.Thresholds
	lostDates    map[frame.MAC]time.Time
	tokenLookups []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notify:    map[frame.MAC]store.NotifyRow{},
		latest:    map[frame.MAC]store.Reading{},
		thresh:    map[frame.MAC]store.Thresholds{},
		lostDates: map[frame.MAC]time.Time{},
	}
}

func (f *fakeStore) GetNotifyList(ctx context.Context, nodeNo int, clearFlag bool) ([]store.NotifyRow, error) {
	var out []store.NotifyRow
	for _, v := range f.notify {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) GetLatestByMAC(ctx context.Context, mac frame.MAC) (store.Reading, bool, error) {
	r, ok := f.latest[mac]
	return r, ok, nil
}

func (f *fakeStore) GetThreshold(ctx context.Context, mac frame.MAC) (store.Thresholds, error) {
	return f.thresh[mac], nil
}

func (f *fakeStore) UpsertNotify(ctx context.Context, mac frame.MAC, state store.SensorState, count int, date time.Time) error {
	row := f.notify[mac]
	row.MAC = mac
	row.Status = state
	row.Count = count
	row.Date = date
	row.Notify = state != store.SensorNormal
	f.notify[mac] = row
	return nil
}

func (f *fakeStore) SetLostDate(ctx context.Context, mac frame.MAC, date time.Time) error {
	f.lostDates[mac] = date
	return nil
}

func (f *fakeStore) DrainLatestAll(ctx context.Context) ([]store.LatestWithAmbient, error) { return nil, nil }
func (f *fakeStore) GetSensorInfo(ctx context.Context, mac frame.MAC) (string, string, int, store.Thresholds, error) {
	return mac.String(), "", 0, store.Thresholds{}, nil
}
func (f *fakeStore) GetDiscordToken(ctx context.Context, node int) (string, error) {
	f.tokenLookups = append(f.tokenLookups, node)
	return "", nil
}
func (f *fakeStore) GetAmbientInfo(ctx context.Context, node int) (string, error)  { return "", nil }
func (f *fakeStore) GetBattery(ctx context.Context, mac frame.MAC) (float64, time.Time, int, error) {
	return 0, time.Time{}, 0, nil
}
func (f *fakeStore) GetSensors(ctx context.Context, node int) ([]store.SensorRef, error) { return nil, nil }
func (f *fakeStore) NumNode(ctx context.Context) (int, error)                            { return 0, nil }

func threshold(highWarn, highCaution float64) store.Thresholds {
	return store.Thresholds{HighWarn: &highWarn, HighCaution: &highCaution}
}

// TestThresholdUpTransition is scenario S1 from §8: a fresh reading
// crossing high_warn with a prior NORMAL/count=0 classifies HIGH_WARN,
// count=1.
func TestThresholdUpTransition(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:01")
	fs.thresh[mac] = threshold(35.0, 40.0)
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorNormal, Count: 0, Date: time.Now().Add(-time.Hour)}
	fs.latest[mac] = store.Reading{MAC: mac, Templ: 38.0, Date: time.Now()}

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll: %v", err)
	}

	got := fs.notify[mac]
	if got.Status != store.SensorHighWarn || got.Count != 1 || !got.Notify {
		t.Fatalf("expected HIGH_WARN count=1 notify=true, got %+v", got)
	}
}

func TestHighCautionOverridesHighWarn(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:02")
	fs.thresh[mac] = threshold(35.0, 40.0)
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorHighCaution, Count: 2, Date: time.Now().Add(-time.Hour)}
	fs.latest[mac] = store.Reading{MAC: mac, Templ: 42.0, Date: time.Now()}

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll: %v", err)
	}

	got := fs.notify[mac]
	if got.Status != store.SensorHighCaution || got.Count != 3 {
		t.Fatalf("expected HIGH_CAUTION count incremented to 3, got %+v", got)
	}
}

func TestHighWarnDebounceSkipsWithinWindow(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:03")
	fs.thresh[mac] = threshold(35.0, 40.0)
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorHighWarn, Count: 1, Date: time.Now().Add(-time.Minute)}
	fs.latest[mac] = store.Reading{MAC: mac, Templ: 36.0, Date: time.Now()}

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll: %v", err)
	}

	got := fs.notify[mac]
	if got.Count != 1 || got.Status != store.SensorHighWarn {
		t.Fatalf("expected no update within the 5-minute debounce window, got %+v", got)
	}
}

func TestLostTransitionAfterFifteenMinutesAbsent(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:04")
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorNormal, Count: 0, Date: time.Now().Add(-16 * time.Minute)}
	// No Latest row: sensor has gone quiet.

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll: %v", err)
	}

	got := fs.notify[mac]
	if got.Status != store.SensorLost || got.Count != 1 {
		t.Fatalf("expected LOST count=1, got %+v", got)
	}
	if _, ok := fs.lostDates[mac]; !ok {
		t.Fatalf("expected lost_date to be recorded")
	}
}

// TestLostDebounceResetsAfterRefire covers two classifyAll ticks in a
// row on an already-LOST sensor. The first tick is far enough past the
// last Notify.date to refire (count 1->2); that refire must stamp
// Notify.date to the current tick, not leave it at the old stale date,
// so a second tick moments later sees an elapsed well under
// lostDebounce and does not refire again (count stays 2). Before the
// fix, the refire kept writing the stale date, so elapsed stayed
// expired forever and every following tick refired too.
func TestLostDebounceResetsAfterRefire(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:07")
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorLost, Count: 1, Date: time.Now().Add(-16 * time.Minute)}
	// No Latest row: sensor is still quiet.

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll (first tick): %v", err)
	}
	afterFirst := fs.notify[mac]
	if afterFirst.Status != store.SensorLost || afterFirst.Count != 2 {
		t.Fatalf("expected first tick to refire to count=2, got %+v", afterFirst)
	}

	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll (second tick): %v", err)
	}
	afterSecond := fs.notify[mac]
	if afterSecond.Count != 2 {
		t.Fatalf("expected second tick moments later to stay debounced at count=2, got %+v", afterSecond)
	}
}

func TestNeverSeenSensorIsSkipped(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:05")
	fs.notify[mac] = store.NotifyRow{MAC: mac, Status: store.SensorNone, Count: 0, Date: time.Now().Add(-time.Hour)}

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.classifyAll(context.Background()); err != nil {
		t.Fatalf("classifyAll: %v", err)
	}

	got := fs.notify[mac]
	if got.Status != store.SensorNone {
		t.Fatalf("expected NONE sensor left untouched, got %+v", got)
	}
}

// TestNotifyCapSilencesChatDispatch is the invariant from §8 property 7:
// once count >= 10 in a non-NORMAL state, fan-out stops selecting the
// row even though it remains notify==1 and alerting.
func TestNotifyCapSilencesChatDispatch(t *testing.T) {
	fs := newFakeStore()
	mac, _ := frame.ParseMAC("aa:bb:cc:dd:ee:06")
	fs.notify[mac] = store.NotifyRow{MAC: mac, Node: 1, Status: store.SensorHighWarn, Count: 10, Notify: true, Date: time.Now()}

	obs := New(fs, nil, nil, nil, false, &testLogger{})
	if err := obs.notifyFanOut(context.Background()); err != nil {
		t.Fatalf("notifyFanOut: %v", err)
	}
	if len(fs.tokenLookups) != 0 {
		t.Fatalf("expected count>=10 to exclude node 1 before any token lookup, got lookups %v", fs.tokenLookups)
	}
}
