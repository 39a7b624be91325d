package acquire

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	// rateInterval is the minimum wall-clock time between two transfer rate
	// samples. Shorter intervals make the displayed rate jumpy.
	rateInterval = 200 * time.Millisecond

	// weight of the previous rate in the exponential moving average.
	emaKeep = 0.75
)

// Progress is a snapshot of an acquisition.
type Progress struct {
	Received int64   // bytes received so far
	Total    int64   // expected bytes, 0 when unknown
	Rate     float64 // smoothed transfer rate, in bytes per second
	Label    string  // active source or stage
	Detail   string  // coarse grained progress, e.g. "2/3 segments"
}

// Indeterminate reports whether the total size is unknown.
func (p Progress) Indeterminate() bool { return p.Total <= 0 }

// Fraction returns the completed fraction in [0, 1], 0 when indeterminate.
func (p Progress) Fraction() float64 {
	if p.Indeterminate() {
		return 0
	}
	return min(1, float64(p.Received)/float64(p.Total))
}

// Percent formats the completed percentage, "…" when indeterminate.
func (p Progress) Percent() string {
	if p.Indeterminate() {
		return "…"
	}
	return strconv.Itoa(int(math.Floor(p.Fraction()*100))) + "%"
}

// Transferred formats the received and total sizes.
func (p Progress) Transferred() string {
	if p.Indeterminate() {
		return FormatMB(p.Received)
	}
	return FormatMB(p.Received) + " / " + FormatMB(p.Total)
}

// ETA estimates the remaining time, 0 when it can't be estimated.
func (p Progress) ETA() time.Duration {
	if p.Indeterminate() || p.Rate <= 0 || p.Received >= p.Total {
		return 0
	}
	return time.Duration(float64(p.Total-p.Received) / p.Rate * float64(time.Second))
}

func (p Progress) String() string {
	s := fmt.Sprintf("%s %s %s", p.Label, p.Percent(), p.Transferred())
	if p.Detail != "" {
		s += " (" + p.Detail + ")"
	}
	return s + " " + FormatSpeed(p.Rate) + " • ETA " + FormatETA(p.ETA())
}

// FormatMB formats a byte count in megabytes, with one decimal below 10MB.
func FormatMB(b int64) string {
	mb := float64(b) / (1024 * 1024)
	if b < 10*1024*1024 {
		return strconv.FormatFloat(mb, 'f', 1, 64) + " MB"
	}
	return strconv.FormatFloat(mb, 'f', 0, 64) + " MB"
}

// FormatSpeed formats a rate in MB/s, "—" if unknown.
func FormatSpeed(bps float64) string {
	if math.IsNaN(bps) || math.IsInf(bps, 0) || bps <= 0 {
		return "—"
	}
	mbps := bps / (1024 * 1024)
	if mbps < 10 {
		return strconv.FormatFloat(mbps, 'f', 1, 64) + " MB/s"
	}
	return strconv.FormatFloat(mbps, 'f', 0, 64) + " MB/s"
}

// FormatETA formats a remaining duration as "1m 5s", "—" if unknown.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "—"
	}
	secs := int(d.Seconds())
	m, s := secs/60, secs%60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// A Meter tracks the progress of the active source and forwards every change
// to a callback.
//
// Updates are serialized, the callback is never called concurrently and
// within a stage never sees Received decrease. The callback must not call
// back into the Meter.
type Meter struct {
	mu  sync.Mutex
	fn  func(Progress)
	now func() time.Time

	cur   Progress
	lastT time.Time
	lastB int64
}

// NewMeter returns a Meter reporting to fn, which may be nil.
func NewMeter(fn func(Progress)) *Meter {
	return &Meter{fn: fn, now: time.Now}
}

// Stage starts a new stage, resetting counters.
func (m *Meter) Stage(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur = Progress{Label: label}
	m.lastT = m.now()
	m.lastB = 0
	m.emit()
}

// Update records the received and expected byte counts. Stale updates, with
// fewer bytes than already reported, are dropped.
func (m *Meter) Update(received, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if received < m.cur.Received {
		return
	}
	m.cur.Received = received
	m.cur.Total = total

	now := m.now()
	if dt := now.Sub(m.lastT); dt >= rateInterval {
		inst := float64(received-m.lastB) / dt.Seconds()
		if m.cur.Rate == 0 {
			m.cur.Rate = inst
		} else {
			m.cur.Rate = m.cur.Rate*emaKeep + inst*(1-emaKeep)
		}
		m.lastT = now
		m.lastB = received
	}
	m.emit()
}

// Detail sets the coarse grained progress text.
func (m *Meter) Detail(detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur.Detail = detail
	m.emit()
}

// Complete marks the stage as done with size bytes. A non-empty label
// replaces the stage label.
func (m *Meter) Complete(size int64, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur.Received = size
	m.cur.Total = size
	if label != "" {
		m.cur.Label = label
	}
	m.emit()
}

// Progress returns the current progress.
func (m *Meter) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *Meter) emit() {
	if m.fn != nil {
		m.fn(m.cur)
	}
}
