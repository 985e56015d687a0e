package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusFormat exports all metrics in Prometheus text exposition format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func (i *Instrumentor) PrometheusFormat() string {
	snapshot := i.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder

	writeHeader(&sb, "objfinder_calls_total", "Total instrumented calls by operation and outcome.", "counter")
	for _, name := range names {
		m := snapshot[name]
		writeSample(&sb, "objfinder_calls_total", map[string]string{"operation": name, "outcome": Success.String()}, fmt.Sprintf("%d", m.SuccessCount))
		writeSample(&sb, "objfinder_calls_total", map[string]string{"operation": name, "outcome": Failure.String()}, fmt.Sprintf("%d", m.ErrorCount))
	}

	writeHeader(&sb, "objfinder_call_duration_seconds_sum", "Total time spent in instrumented calls.", "counter")
	for _, name := range names {
		writeSample(&sb, "objfinder_call_duration_seconds_sum", map[string]string{"operation": name}, fmt.Sprintf("%.6f", snapshot[name].TotalSeconds))
	}

	writeHeader(&sb, "objfinder_call_duration_seconds_min", "Fastest observed call.", "gauge")
	for _, name := range names {
		writeSample(&sb, "objfinder_call_duration_seconds_min", map[string]string{"operation": name}, fmt.Sprintf("%.6f", snapshot[name].MinSeconds))
	}

	writeHeader(&sb, "objfinder_call_duration_seconds_max", "Slowest observed call.", "gauge")
	for _, name := range names {
		writeSample(&sb, "objfinder_call_duration_seconds_max", map[string]string{"operation": name}, fmt.Sprintf("%.6f", snapshot[name].MaxSeconds))
	}

	return sb.String()
}

// Handler returns an HTTP handler that serves Prometheus metrics.
func (i *Instrumentor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(i.PrometheusFormat()))
	})
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	sb.WriteString("# HELP ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(help)
	sb.WriteString("\n")

	sb.WriteString("# TYPE ")
	sb.WriteString(name)
	sb.WriteString(" ")
	sb.WriteString(kind)
	sb.WriteString("\n")
}

func writeSample(sb *strings.Builder, name string, labels map[string]string, value string) {
	sb.WriteString(name)
	writeLabels(sb, labels)
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	// Sort keys for stable output
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
