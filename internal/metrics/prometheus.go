package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP streamguard_uptime_seconds Time since the daemon started\n")
	sb.WriteString("# TYPE streamguard_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("streamguard_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	writeCounter(&sb, "streamguard_requests_total", "Total number of requests by route", snap.TotalRequests)
	writeCounter(&sb, "streamguard_request_errors_total", "Total number of 5xx responses by route", snap.RequestErrors)
	writeCounter(&sb, "streamguard_request_duration_ms_total", "Total request duration in milliseconds", snap.TotalRequestsDur)

	sb.WriteString("# HELP streamguard_streams_in_progress Streams currently being written\n")
	sb.WriteString("# TYPE streamguard_streams_in_progress gauge\n")
	for _, route := range sortedKeys(snap.StreamsInProgress) {
		if n := snap.StreamsInProgress[route]; n > 0 {
			sb.WriteString(fmt.Sprintf("streamguard_streams_in_progress{route=\"%s\"} %d\n", escapeLabel(route), n))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP streamguard_streams_total Finished streams by route and outcome\n")
	sb.WriteString("# TYPE streamguard_streams_total counter\n")
	for _, route := range sortedKeys(snap.StreamOutcomes) {
		byOutcome := snap.StreamOutcomes[route]
		for _, outcome := range sortedKeys(byOutcome) {
			sb.WriteString(fmt.Sprintf("streamguard_streams_total{route=\"%s\",outcome=\"%s\"} %d\n", escapeLabel(route), outcome, byOutcome[outcome]))
		}
	}
	sb.WriteString("\n")

	writeCounter(&sb, "streamguard_stream_chunks_total", "Chunks delivered to clients", snap.StreamChunks)
	writeCounter(&sb, "streamguard_stream_bytes_total", "Bytes delivered to clients", snap.StreamBytes)
	writeCounter(&sb, "streamguard_stream_duration_ms_total", "Total stream duration in milliseconds", snap.StreamDur)

	return sb.String()
}

func writeCounter(sb *strings.Builder, name, help string, values map[string]int64) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
	for _, route := range sortedKeys(values) {
		sb.WriteString(fmt.Sprintf("%s{route=\"%s\"} %d\n", name, escapeLabel(route), values[route]))
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}
