package engine

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricIngestEntries    = []string{"braid", "ingest", "entries"}
	MetricIngestDuplicates = []string{"braid", "ingest", "duplicates"}
	MetricIngestInvalid    = []string{"braid", "ingest", "invalid"}
	MetricIngestConflicts  = []string{"braid", "ingest", "conflicts"}
	MetricReplayApplied    = []string{"braid", "replay", "applied"}
	MetricReplaySkipped    = []string{"braid", "replay", "skipped"}
	MetricReplayDuration   = []string{"braid", "replay", "duration"}
	MetricPendingEntries   = []string{"braid", "pending", "entries"}
)

// TelemetryLabel names a metric label or log attribute.
type TelemetryLabel string

var (
	LabelReason  TelemetryLabel = "reason"
	LabelWriter  TelemetryLabel = "writer"
	LabelCommand TelemetryLabel = "command"
)

// M builds a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a log attribute.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{Key: string(lab), Value: slog.AnyValue(val)}
}
