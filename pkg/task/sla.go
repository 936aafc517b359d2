package task

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultReactivitySeconds is the hard-coded SLA fallback (12 hours) used
// when neither the caller nor the organization profile supplies a window.
const DefaultReactivitySeconds = 43200

// ParseSLADuration parses a reactivity-window value into a duration. Accepted
// forms are a bare integer (seconds) or a composite duration string such as
// "1d2h30m15s", evaluated as days*86400 + hours*3600 + minutes*60 + seconds.
func ParseSLADuration(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, errors.New("empty duration")
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, errors.Errorf("non-positive duration %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}

	var total, num int64
	sawUnit := false
	sawDigit := false
	for _, r := range strings.ToLower(v) {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int64(r-'0')
			sawDigit = true
		case r == 'd' || r == 'h' || r == 'm' || r == 's':
			if !sawDigit {
				return 0, errors.Errorf("malformed duration %q", value)
			}
			switch r {
			case 'd':
				total += num * 86400
			case 'h':
				total += num * 3600
			case 'm':
				total += num * 60
			case 's':
				total += num
			}
			num = 0
			sawDigit = false
			sawUnit = true
		default:
			return 0, errors.Errorf("malformed duration %q", value)
		}
	}
	if sawDigit || !sawUnit {
		return 0, errors.Errorf("malformed duration %q", value)
	}
	if total <= 0 {
		return 0, errors.Errorf("non-positive duration %q", value)
	}
	return time.Duration(total) * time.Second, nil
}

// SLAInputs are the caller-supplied pieces of the reactivity-window
// resolution. Either field may be empty.
type SLAInputs struct {
	// DeadlineAt is an explicit absolute deadline override. Highest precedence.
	DeadlineAt *time.Time
	// Duration is an explicit duration override (seconds or composite string).
	Duration string
}

// ResolveReactivityDeadline computes the reactivity deadline for a Task
// created at createdAt. Precedence: absolute override, duration override,
// profile default, hard-coded fallback. Invalid overrides fall through to
// the next source so a bad caller value degrades instead of failing create.
func ResolveReactivityDeadline(createdAt time.Time, in SLAInputs, profile ProfileDefaults) time.Time {
	if in.DeadlineAt != nil {
		return *in.DeadlineAt
	}
	if in.Duration != "" {
		if d, err := ParseSLADuration(in.Duration); err == nil {
			return createdAt.Add(d)
		}
	}
	if profile.ReactivitySeconds > 0 {
		return createdAt.Add(time.Duration(profile.ReactivitySeconds) * time.Second)
	}
	return createdAt.Add(DefaultReactivitySeconds * time.Second)
}
