package metrics

import (
	"sync"
	"time"
)

// Metrics holds orchestrator counters surfaced on /metrics.
type Metrics struct {
	mu sync.RWMutex

	ActiveSessions int64
	TotalSessions  int64

	WebhookEvents  map[string]int64
	WebhookErrors  int64
	ToolCalls      map[string]int64
	ToolErrors     map[string]int64
	ProviderCalls  map[string]int64
	ProviderErrors map[string]int64

	StartTime time.Time
}

var global = &Metrics{
	WebhookEvents:  make(map[string]int64),
	ToolCalls:      make(map[string]int64),
	ToolErrors:     make(map[string]int64),
	ProviderCalls:  make(map[string]int64),
	ProviderErrors: make(map[string]int64),
	StartTime:      time.Now(),
}

func SessionStarted() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.ActiveSessions++
	global.TotalSessions++
}

func SessionEnded() {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.ActiveSessions > 0 {
		global.ActiveSessions--
	}
}

func RecordWebhookEvent(eventType string, err error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.WebhookEvents[eventType]++
	if err != nil {
		global.WebhookErrors++
	}
}

func RecordToolCall(tool string, err error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.ToolCalls[tool]++
	if err != nil {
		global.ToolErrors[tool]++
	}
}

func RecordProviderCall(action string, err error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.ProviderCalls[action]++
	if err != nil {
		global.ProviderErrors[action]++
	}
}

// Snapshot returns a copy safe to serialize.
func Snapshot() Metrics {
	global.mu.RLock()
	defer global.mu.RUnlock()

	snap := Metrics{
		ActiveSessions: global.ActiveSessions,
		TotalSessions:  global.TotalSessions,
		WebhookErrors:  global.WebhookErrors,
		WebhookEvents:  copyCounts(global.WebhookEvents),
		ToolCalls:      copyCounts(global.ToolCalls),
		ToolErrors:     copyCounts(global.ToolErrors),
		ProviderCalls:  copyCounts(global.ProviderCalls),
		ProviderErrors: copyCounts(global.ProviderErrors),
		StartTime:      global.StartTime,
	}
	return snap
}

// Reset clears counters; used by tests.
func Reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.ActiveSessions = 0
	global.TotalSessions = 0
	global.WebhookErrors = 0
	global.WebhookEvents = make(map[string]int64)
	global.ToolCalls = make(map[string]int64)
	global.ToolErrors = make(map[string]int64)
	global.ProviderCalls = make(map[string]int64)
	global.ProviderErrors = make(map[string]int64)
	global.StartTime = time.Now()
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
