// Package stats keeps process-wide room counters in an expvar map.
package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const statsMapName = "readroom-stats"

const (
	NumActiveRooms      = "NumActiveRooms"
	NumConnectedClients = "NumConnectedClients"
	NumHostCommands     = "NumHostCommands"
	NumChatMessages     = "NumChatMessages"
)

// Counters lists the metrics every updater starts with.
var Counters = []string{NumActiveRooms, NumConnectedClients, NumHostCommands, NumChatMessages}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars    *expvar.Map
	started time.Time
	deltas  chan delta
}

type delta struct {
	name string
	by   int64
}

// NewStatsUpdater publishes the stats map and serves it on GET /debug/vars.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		started: time.Now(),
		deltas:  make(chan delta, 512),
	}

	// expvar names are process-global
	if m, ok := expvar.Get(statsMapName).(*expvar.Map); ok {
		su.vars = m
	} else {
		su.vars = expvar.NewMap(statsMapName)
	}
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(su.started).Milliseconds()
	}))
	for _, name := range Counters {
		su.RegisterMetric(name)
	}

	mux.HandleFunc("GET /debug/vars", su.serveVars)
	return su
}

// Snapshot returns the current value of every published metric.
func (su *StatsUpdater) Snapshot() map[string]any {
	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var v any
		if err := json.Unmarshal([]byte(kv.Value.String()), &v); err == nil {
			out[kv.Key] = v
		}
	})
	return out
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(su.Snapshot())
}

func (su *StatsUpdater) apply() {
	for d := range su.deltas {
		counter, ok := su.vars.Get(d.name).(*expvar.Int)
		if !ok {
			panic("unregistered metric: " + d.name)
		}
		counter.Add(d.by)
	}
}

func (su *StatsUpdater) Incr(name string) { su.deltas <- delta{name: name, by: 1} }
func (su *StatsUpdater) Decr(name string) { su.deltas <- delta{name: name, by: -1} }

// RegisterMetric publishes a zeroed counter, resetting any existing one.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

// Stop ends the update loop. Incr and Decr must not be called afterwards.
func (su *StatsUpdater) Stop() {
	close(su.deltas)
}
