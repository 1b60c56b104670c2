package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All internal counters surface as a single metric with an `event` label,
// followed by the registered gauges and a few process memory gauges sampled
// from runtime.MemStats at scrape time.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP signal_relay_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE signal_relay_events_total counter")
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "signal_relay_events_total{event=\"%s\"} %d\n", escaper.Replace(k), snap[k])
		}

		for _, g := range m.gaugeList() {
			_, _ = fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
			_, _ = fmt.Fprintf(w, "%s %d\n", g.name, g.fn())
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		_, _ = fmt.Fprintln(w, "# HELP signal_relay_heap_alloc_bytes Bytes of allocated heap objects.")
		_, _ = fmt.Fprintln(w, "# TYPE signal_relay_heap_alloc_bytes gauge")
		_, _ = fmt.Fprintf(w, "signal_relay_heap_alloc_bytes %d\n", ms.HeapAlloc)
		_, _ = fmt.Fprintln(w, "# HELP signal_relay_sys_bytes Bytes obtained from the OS.")
		_, _ = fmt.Fprintln(w, "# TYPE signal_relay_sys_bytes gauge")
		_, _ = fmt.Fprintf(w, "signal_relay_sys_bytes %d\n", ms.Sys)
		_, _ = fmt.Fprintln(w, "# HELP signal_relay_goroutines Number of live goroutines.")
		_, _ = fmt.Fprintln(w, "# TYPE signal_relay_goroutines gauge")
		_, _ = fmt.Fprintf(w, "signal_relay_goroutines %d\n", runtime.NumGoroutine())
	})
}
