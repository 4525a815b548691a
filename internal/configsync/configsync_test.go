package configsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/cloudclient"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

type testLogger struct{ lines []string }

func (l *testLogger) Printf(format string, v ...any) { l.lines = append(l.lines, format) }

type fakeStore struct {
	applied []store.Conf
	result  store.ApplyResult
	err     error
}

func (f *fakeStore) ApplyConfig(ctx context.Context, rows []store.Conf, cloudUpdatedAt time.Time) (store.ApplyResult, error) {
	f.applied = rows
	return f.result, f.err
}

func TestSyncAppliesAndAcks(t *testing.T) {
	var ackCalls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("sens") {
		case "sensor":
			w.Write([]byte(`[
				{"date": "2026/07/29 08:00:00"},
				{"mac": "aa:bb:cc:dd:ee:01", "name": "t1", "node": "LORA01", "use": true, "warn": "NONE,NONE,35,40"}
			]`))
		case "ack":
			ackCalls = append(ackCalls, r.URL.Query().Get("mess"))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	cc := cloudclient.New(srv.URL)
	fs := &fakeStore{result: store.ApplyUpdated}
	cs := New(cc, fs, &testLogger{})

	if err := cs.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(fs.applied) != 1 || fs.applied[0].Name != "t1" {
		t.Fatalf("expected one applied row, got %+v", fs.applied)
	}
	if len(ackCalls) != 1 || ackCalls[0] != "config updated" {
		t.Fatalf("expected one ack %q, got %v", "config updated", ackCalls)
	}
}

func TestSyncAcksErrorOnMalformedMAC(t *testing.T) {
	var ackCalls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("sens") {
		case "sensor":
			w.Write([]byte(`[
				{"date": "2026/07/29 08:00:00"},
				{"mac": "not-a-mac", "name": "t1", "node": "LORA01", "use": true, "warn": "NONE,NONE,35,40"}
			]`))
		case "ack":
			ackCalls = append(ackCalls, r.URL.Query().Get("mess"))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	cc := cloudclient.New(srv.URL)
	fs := &fakeStore{}
	cs := New(cc, fs, &testLogger{})

	if err := cs.Sync(context.Background()); err == nil {
		t.Fatalf("expected an error for malformed mac")
	}
	if len(ackCalls) != 1 {
		t.Fatalf("expected exactly one ack even on parse failure, got %v", ackCalls)
	}
	if len(fs.applied) != 0 {
		t.Fatalf("expected apply_config never called on parse failure, got %+v", fs.applied)
	}
}
