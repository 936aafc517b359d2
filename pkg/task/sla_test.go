package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSLADuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"90", 90 * time.Second},
		{"3600", time.Hour},
		{"1d2h30m15s", 26*time.Hour + 30*time.Minute + 15*time.Second},
		{"2h", 2 * time.Hour},
		{"45m", 45 * time.Minute},
		{"1D2H", 26 * time.Hour},
		{" 600 ", 600 * time.Second},
	}
	for _, c := range cases {
		got, err := ParseSLADuration(c.in)
		require.NoErrorf(t, err, "input %q", c.in)
		assert.Equalf(t, c.want, got, "input %q", c.in)
	}

	for _, in := range []string{"", "0", "-5", "abc", "1x", "d", "1h30", "1.5h"} {
		_, err := ParseSLADuration(in)
		assert.Errorf(t, err, "input %q must fail", in)
	}
}

func TestResolveReactivityDeadlinePrecedence(t *testing.T) {
	createdAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	profile := ProfileDefaults{ReactivitySeconds: 7200}

	// Absolute override wins over everything.
	abs := createdAt.Add(15 * time.Minute)
	got := ResolveReactivityDeadline(createdAt, SLAInputs{DeadlineAt: &abs, Duration: "3600"}, profile)
	assert.Equal(t, abs, got)

	// Duration override wins over the profile.
	got = ResolveReactivityDeadline(createdAt, SLAInputs{Duration: "3600"}, profile)
	assert.Equal(t, createdAt.Add(time.Hour), got)

	// Composite duration form.
	got = ResolveReactivityDeadline(createdAt, SLAInputs{Duration: "1d2h"}, profile)
	assert.Equal(t, createdAt.Add(26*time.Hour), got)

	// Profile default when no override.
	got = ResolveReactivityDeadline(createdAt, SLAInputs{}, profile)
	assert.Equal(t, createdAt.Add(2*time.Hour), got)

	// Invalid duration falls through to the profile.
	got = ResolveReactivityDeadline(createdAt, SLAInputs{Duration: "bogus"}, profile)
	assert.Equal(t, createdAt.Add(2*time.Hour), got)

	// Hard fallback of 12 hours when the profile has no window either.
	got = ResolveReactivityDeadline(createdAt, SLAInputs{}, ProfileDefaults{})
	assert.Equal(t, createdAt.Add(12*time.Hour), got)
}
