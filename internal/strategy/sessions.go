package strategy

import (
	"fmt"
	"time"
)

// Trading session names.
const (
	SessionAsian   = "asian"
	SessionLondon  = "london"
	SessionNewYork = "new_york"
	SessionOverlap = "overlap"
)

// sessionWindow is a [start, end) UTC hour range. start > end wraps
// past midnight.
type sessionWindow struct {
	start int
	end   int
}

var sessionWindows = map[string]sessionWindow{
	SessionAsian:   {23, 8},
	SessionLondon:  {7, 16},
	SessionNewYork: {12, 21},
	SessionOverlap: {12, 16},
}

// sessionOrder fixes the iteration order for ActiveSessions.
var sessionOrder = []string{SessionAsian, SessionLondon, SessionNewYork, SessionOverlap}

func hourInWindow(hour int, w sessionWindow) bool {
	if w.start <= w.end {
		return hour >= w.start && hour < w.end
	}
	return hour >= w.start || hour < w.end
}

// ActiveSessions returns the session names active at the given UTC time.
func ActiveSessions(ts time.Time) []string {
	hour := ts.UTC().Hour()
	var active []string
	for _, name := range sessionOrder {
		if hourInWindow(hour, sessionWindows[name]) {
			active = append(active, name)
		}
	}
	return active
}

// InSession reports whether the timestamp falls within the named session.
func InSession(ts time.Time, session string) (bool, error) {
	w, ok := sessionWindows[session]
	if !ok {
		return false, fmt.Errorf("unknown session %q", session)
	}
	return hourInWindow(ts.UTC().Hour(), w), nil
}

// PrimarySession returns the first active session name, or "".
func PrimarySession(ts time.Time) string {
	active := ActiveSessions(ts)
	if len(active) == 0 {
		return ""
	}
	return active[0]
}
