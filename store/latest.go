package store

import (
	"sync"

	"github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

// Latest holds the most recent successfully decoded reading. It is written by the
// acquisition loop only and read by any number of HTTP handlers, metrics scrapes and hub
// subscriptions.
type Latest struct {
	mu      sync.RWMutex
	reading heartrate.Reading
	ok      bool
}

func NewLatest() *Latest {
	return &Latest{}
}

// Write replaces the stored reading wholesale.
func (l *Latest) Write(r heartrate.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reading = r
	l.ok = true
}

// Read returns a copy of the stored reading, or false if nothing was written yet.
func (l *Latest) Read() (heartrate.Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.reading, l.ok
}
