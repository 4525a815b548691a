package config

import "testing"

func TestNodeNoFromHostname(t *testing.T) {
	cases := []struct {
		hostname string
		want     int
		wantErr  bool
	}{
		{"sast-gw00", 0, false},
		{"sast-node07", 7, false},
		{"sast-node99", 99, false},
		{"sast-xx", -1, true},
		{"a", 0, true},
	}
	for _, tc := range cases {
		got, err := NodeNoFromHostname(tc.hostname)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NodeNoFromHostname(%q): expected error, got %d", tc.hostname, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NodeNoFromHostname(%q): unexpected error: %v", tc.hostname, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NodeNoFromHostname(%q) = %d, want %d", tc.hostname, got, tc.want)
		}
	}
}

func TestDefaultConfigBaseline(t *testing.T) {
	c := DefaultConfig()
	if c.Timing.BeaconIntervalSeconds != 60 {
		t.Errorf("expected default beacon interval 60s, got %d", c.Timing.BeaconIntervalSeconds)
	}
	if c.Timing.SendCloudMinutes != 2 {
		t.Errorf("expected default cloud-send interval 2m, got %d", c.Timing.SendCloudMinutes)
	}
	if c.BeaconInterval().Seconds() != 60 {
		t.Errorf("BeaconInterval() = %v, want 60s", c.BeaconInterval())
	}
}
