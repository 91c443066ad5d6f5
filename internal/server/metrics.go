package server

import (
	"fmt"
	"net/http"
	"strings"
)

// handleMetrics renders operational counters in the Prometheus text
// exposition format. Scraped unauthenticated; exposes only aggregate
// counters, never client secrets or log content.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	ingestStats := s.coordinator.Stats()
	sessionStats := s.registry.Stats()
	quotaStats := s.auth.Stats()

	var b strings.Builder

	writeMetric(&b, "lodestone_active_sessions", "gauge", "Number of live streaming sessions.",
		float64(sessionStats.TotalSessions))
	writeMetric(&b, "lodestone_active_clients", "gauge", "Number of distinct clients with live sessions.",
		float64(sessionStats.ActiveClients))
	writeMetric(&b, "lodestone_active_contexts", "gauge", "Number of live processing contexts.",
		float64(ingestStats.ActiveContexts))
	writeMetric(&b, "lodestone_tracked_connections", "gauge", "Connections tracked by the quota layer.",
		float64(quotaStats.TotalConnections))

	writeMetric(&b, "lodestone_lines_total", "counter", "Total log lines received.",
		float64(ingestStats.TotalLines))
	writeMetric(&b, "lodestone_events_total", "counter", "Total events parsed.",
		float64(ingestStats.TotalEvents))
	writeMetric(&b, "lodestone_parse_errors_total", "counter", "Total lines that failed to parse.",
		float64(ingestStats.TotalParseErrors))

	writeMetric(&b, "lodestone_lines_per_second", "gauge", "Line throughput since start.",
		ingestStats.LinesPerSecond)
	writeMetric(&b, "lodestone_events_per_second", "gauge", "Event throughput since start.",
		ingestStats.EventsPerSecond)
	writeMetric(&b, "lodestone_error_rate_percent", "gauge", "Share of lines that failed to parse.",
		ingestStats.ErrorRatePercent)
	writeMetric(&b, "lodestone_uptime_seconds", "gauge", "Seconds since the ingest coordinator started.",
		ingestStats.UptimeSeconds)

	for status, count := range sessionStats.StatusCounts {
		fmt.Fprintf(&b, "lodestone_sessions_by_status{status=%q} %d\n", status, count)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func writeMetric(b *strings.Builder, name, typ, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(b, "%s %g\n", name, value)
}
