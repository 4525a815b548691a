package nodelink

import "testing"

func TestAckOutcomeString(t *testing.T) {
	cases := []struct {
		o    AckOutcome
		want string
	}{
		{AckReceived, "ACK"},
		{AckNone, "NONE"},
		{AckTimeout, "TIMEOUT"},
	}
	for _, tc := range cases {
		if got := tc.o.String(); got != tc.want {
			t.Errorf("%v.String() = %q, want %q", tc.o, got, tc.want)
		}
	}
}
