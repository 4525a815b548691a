package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustMAC(t *testing.T, s string) frame.MAC {
	t.Helper()
	m, err := frame.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%s): %v", s, err)
	}
	return m
}

func seedConf(t *testing.T, s *Store, rows []Conf) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.ApplyConfig(ctx, rows, time.Now()); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
}

func TestApplyConfigRebuildsNotifyOnceOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []Conf{
		{MAC: mustMAC(t, "aa:bb:cc:dd:ee:01"), Name: "temp1", Node: "LORA01", Use: true,
			Warn: Thresholds{}, AmbientConf: "d1"},
		{MAC: mustMAC(t, "aa:bb:cc:dd:ee:02"), Name: "temp2", Node: "LORA01", Use: false,
			Warn: Thresholds{}, AmbientConf: "d2"},
	}
	updatedAt := time.Now()
	result, err := s.ApplyConfig(ctx, rows, updatedAt)
	if err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if result != ApplyUpdated {
		t.Fatalf("expected ApplyUpdated, got %v", result)
	}

	list, err := s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notify row for the enabled sensor only, got %d", len(list))
	}
	if list[0].Status != SensorNormal {
		t.Fatalf("expected freshly rebuilt row to be NORMAL, got %v", list[0].Status)
	}

	// Re-applying the identical cloud timestamp must be a no-op.
	result, err = s.ApplyConfig(ctx, rows, updatedAt)
	if err != nil {
		t.Fatalf("ApplyConfig (repeat): %v", err)
	}
	if result != ApplyUnchanged {
		t.Fatalf("expected ApplyUnchanged on repeated timestamp, got %v", result)
	}
}

func TestAppendReadingUpsertsLatestAndKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := frame.NodeBodyMAC(1)

	r1 := Reading{MAC: mac, Date: time.Now(), Node: 1, Templ: 21.5, Humid: 40, Batt: 90, RSSI: -50, Status: SensorNormal}
	if err := s.AppendReading(ctx, r1); err != nil {
		t.Fatalf("AppendReading 1: %v", err)
	}
	r2 := r1
	r2.Date = r1.Date.Add(time.Minute)
	r2.Templ = 22.0
	if err := s.AppendReading(ctx, r2); err != nil {
		t.Fatalf("AppendReading 2: %v", err)
	}

	got, err := s.DrainLatestNode(ctx, 1)
	if err != nil {
		t.Fatalf("DrainLatestNode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one Latest row per mac, got %d", len(got))
	}
	if got[0].Templ != 22.0 {
		t.Fatalf("expected Latest to hold the most recent reading, got templ=%v", got[0].Templ)
	}

	again, err := s.DrainLatestNode(ctx, 1)
	if err != nil {
		t.Fatalf("DrainLatestNode (second): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected drain to remove rows, got %d remaining", len(again))
	}
}

func TestDrainLatestAllJoinsAmbientConf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:03")
	seedConf(t, s, []Conf{
		{MAC: mac, Name: "humid1", Node: "LORA02", Use: true, AmbientConf: "field3"},
	})
	if err := s.AppendReading(ctx, Reading{MAC: mac, Date: time.Now(), Node: 2, Humid: 55, Status: SensorNormal}); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}

	rows, err := s.DrainLatestAll(ctx)
	if err != nil {
		t.Fatalf("DrainLatestAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].AmbientConf != "field3" {
		t.Fatalf("expected ambient_conf to be joined in, got %q", rows[0].AmbientConf)
	}
}

func TestRebuildNotifyDropsStaleLatestForDisabledSensors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:04")
	seedConf(t, s, []Conf{
		{MAC: mac, Name: "x", Node: "LORA01", Use: true},
	})
	if err := s.AppendReading(ctx, Reading{MAC: mac, Date: time.Now(), Node: 1, Status: SensorNormal}); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}

	// Disabling the sensor on the next config apply must drop its
	// stale Latest row via rebuild_notify.
	seedConf(t, s, []Conf{
		{MAC: mac, Name: "x", Node: "LORA01", Use: false},
	})

	rows, err := s.DrainLatestAll(ctx)
	if err != nil {
		t.Fatalf("DrainLatestAll: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected disabled sensor's latest row to have been dropped, got %d rows", len(rows))
	}
}

func TestUpsertNotifyClearsFlagOnlyWhenNormal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:05")
	seedConf(t, s, []Conf{{MAC: mac, Name: "x", Node: "LORA01", Use: true}})

	if err := s.UpsertNotify(ctx, mac, SensorHighWarn, 1, time.Now()); err != nil {
		t.Fatalf("UpsertNotify: %v", err)
	}
	list, err := s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList: %v", err)
	}
	if len(list) != 1 || !list[0].Notify {
		t.Fatalf("expected notify flag set for HIGH_WARN, got %+v", list)
	}

	if err := s.UpsertNotify(ctx, mac, SensorNormal, 0, time.Now()); err != nil {
		t.Fatalf("UpsertNotify (normal): %v", err)
	}
	list, err = s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList: %v", err)
	}
	if len(list) != 1 || list[0].Notify {
		t.Fatalf("expected notify flag cleared on return to NORMAL, got %+v", list)
	}
}

func TestGetNotifyListClearFlagIsScopedToNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac1 := mustMAC(t, "aa:bb:cc:dd:ee:06")
	mac2 := mustMAC(t, "aa:bb:cc:dd:ee:07")
	seedConf(t, s, []Conf{
		{MAC: mac1, Name: "a", Node: "LORA01", Use: true},
		{MAC: mac2, Name: "b", Node: "LORA02", Use: true},
	})
	if err := s.UpsertNotify(ctx, mac1, SensorHighWarn, 1, time.Now()); err != nil {
		t.Fatalf("UpsertNotify mac1: %v", err)
	}
	if err := s.UpsertNotify(ctx, mac2, SensorHighWarn, 1, time.Now()); err != nil {
		t.Fatalf("UpsertNotify mac2: %v", err)
	}

	node1List, err := s.GetNotifyList(ctx, 1, true)
	if err != nil {
		t.Fatalf("GetNotifyList(1, clear): %v", err)
	}
	if len(node1List) != 1 {
		t.Fatalf("expected 1 row for node 1, got %d", len(node1List))
	}

	full, err := s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList(all): %v", err)
	}
	for _, row := range full {
		if row.Node == 1 && row.Notify {
			t.Fatalf("expected node 1's notify flag cleared, still set: %+v", row)
		}
		if row.Node == 2 && !row.Notify {
			t.Fatalf("expected node 2's notify flag untouched, got cleared: %+v", row)
		}
	}
}

func TestInitGatewayClearsLatestAndRebuildsNotify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:08")
	seedConf(t, s, []Conf{{MAC: mac, Name: "x", Node: "LORA01", Use: true}})
	if err := s.AppendReading(ctx, Reading{MAC: mac, Date: time.Now(), Node: 1, Status: SensorNormal}); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}

	if err := s.InitGateway(ctx); err != nil {
		t.Fatalf("InitGateway: %v", err)
	}

	rows, err := s.DrainLatestAll(ctx)
	if err != nil {
		t.Fatalf("DrainLatestAll: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected Latest cleared by InitGateway, got %d rows", len(rows))
	}
	list, err := s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected Notify rebuilt for the enabled sensor, got %d rows", len(list))
	}
}

func TestClearDropsEverythingAndStatusRowReappears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:09")
	seedConf(t, s, []Conf{{MAC: mac, Name: "x", Node: "LORA01", Use: true}})

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	list, err := s.GetNotifyList(ctx, 0, false)
	if err != nil {
		t.Fatalf("GetNotifyList after Clear: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected notify table empty after Clear, got %d rows", len(list))
	}
	status, err := s.GetNodeStatus(ctx)
	if err != nil {
		t.Fatalf("GetNodeStatus after Clear: %v", err)
	}
	if status != NodeStatusNone {
		t.Fatalf("expected status reset to NONE after Clear, got %v", status)
	}
}

func TestNumNodeExcludesGatewayOwnRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedConf(t, s, []Conf{
		{MAC: mustMAC(t, "aa:bb:cc:dd:ee:0a"), Name: "gw", Node: "LORA00", Use: true},
		{MAC: mustMAC(t, "aa:bb:cc:dd:ee:0b"), Name: "n1", Node: "LORA01", Use: true},
		{MAC: mustMAC(t, "aa:bb:cc:dd:ee:0c"), Name: "n2", Node: "LORA02", Use: true},
	})
	n, err := s.NumNode(ctx)
	if err != nil {
		t.Fatalf("NumNode: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 nodes (excluding LORA00), got %d", n)
	}
}

func TestThresholdsRoundTripWithNoneFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mac := mustMAC(t, "aa:bb:cc:dd:ee:0d")
	hw := 30.0
	seedConf(t, s, []Conf{
		{MAC: mac, Name: "x", Node: "LORA01", Use: true, Warn: Thresholds{HighWarn: &hw}},
	})

	got, err := s.GetThreshold(ctx, mac)
	if err != nil {
		t.Fatalf("GetThreshold: %v", err)
	}
	if got.LowCaution != nil || got.LowWarn != nil || got.HighCaution != nil {
		t.Fatalf("expected unset thresholds to decode as nil, got %+v", got)
	}
	if got.HighWarn == nil || *got.HighWarn != hw {
		t.Fatalf("expected HighWarn=%v, got %+v", hw, got.HighWarn)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
