// Package monitor aggregates per-endpoint usage telemetry: daily call
// counters kept for a week and a rolling last-error record per endpoint.
// All writes are best-effort instrumentation - callers log failures and
// carry on.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"paperai/api/internal/kv"
)

const (
	metricsKeyPrefix = "metrics:"
	errorsKeyPrefix  = "errors:"

	metricsTTL = 7 * 24 * time.Hour
	errorsTTL  = 24 * time.Hour
)

// Sample is one observed provider call.
type Sample struct {
	Endpoint     string
	ResponseTime time.Duration
	Tokens       int64
	Success      bool
}

// DailyMetrics is one endpoint-day aggregate plus its derived figures.
type DailyMetrics struct {
	Date            string  `json:"date"`
	TotalCalls      int64   `json:"totalCalls"`
	TotalTimeMs     int64   `json:"totalResponseTimeMs"`
	TotalTokens     int64   `json:"totalTokens"`
	SuccessCount    int64   `json:"successCount"`
	ErrorCount      int64   `json:"errorCount"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	AvgTokens       float64 `json:"avgTokens"`
	SuccessRate     float64 `json:"successRate"`
}

// ErrorRecord is the rolling last-error state for an endpoint.
type ErrorRecord struct {
	Count     int64     `json:"count"`
	LastError string    `json:"lastError"`
	Timestamp time.Time `json:"timestamp"`
}

type Monitor struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Monitor {
	return &Monitor{store: store, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (m *Monitor) SetNow(now func() time.Time) { m.now = now }

// TrackPerformance folds one call into the endpoint's current UTC-day
// aggregate and refreshes the record's 7-day expiry.
func (m *Monitor) TrackPerformance(ctx context.Context, sample Sample) error {
	now := m.now().UTC()
	key := m.metricsKey(sample.Endpoint, now)

	increments := []struct {
		field string
		n     int64
	}{
		{"totalCalls", 1},
		{"totalResponseTimeMs", sample.ResponseTime.Milliseconds()},
		{"totalTokens", sample.Tokens},
	}
	for _, inc := range increments {
		if _, err := m.store.HIncrBy(ctx, key, inc.field, inc.n); err != nil {
			return fmt.Errorf("track performance: %w", err)
		}
	}
	outcome := "errorCount"
	if sample.Success {
		outcome = "successCount"
	}
	if _, err := m.store.HIncrBy(ctx, key, outcome, 1); err != nil {
		return fmt.Errorf("track performance: %w", err)
	}
	if err := m.store.Expire(ctx, key, metricsTTL); err != nil {
		return fmt.Errorf("track performance: %w", err)
	}
	return nil
}

// TrackError overwrites the endpoint's last-error record, bumps its
// within-TTL error counter and refreshes the 24h expiry.
func (m *Monitor) TrackError(ctx context.Context, endpoint string, cause error) error {
	key := errorsKeyPrefix + endpoint

	if _, err := m.store.HIncrBy(ctx, key, "count", 1); err != nil {
		return fmt.Errorf("track error: %w", err)
	}
	fields := map[string]string{
		"lastError":   cause.Error(),
		"lastErrorAt": m.now().UTC().Format(time.RFC3339),
	}
	if err := m.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("track error: %w", err)
	}
	if err := m.store.Expire(ctx, key, errorsTTL); err != nil {
		return fmt.Errorf("track error: %w", err)
	}
	return nil
}

// PerformanceMetrics returns the trailing `days` calendar days of
// aggregates for an endpoint, today first. Days with no recorded calls
// are omitted. Derived figures are zero, never NaN, when a raw record
// somehow has no calls.
func (m *Monitor) PerformanceMetrics(ctx context.Context, endpoint string, days int) ([]DailyMetrics, error) {
	if days < 1 {
		days = 1
	}
	now := m.now().UTC()

	metrics := make([]DailyMetrics, 0, days)
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i)
		fields, err := m.store.HGetAll(ctx, m.metricsKey(endpoint, day))
		if err != nil {
			return nil, fmt.Errorf("performance metrics: %w", err)
		}
		if len(fields) == 0 {
			continue
		}

		daily := DailyMetrics{
			Date:         day.Format("2006-01-02"),
			TotalCalls:   fieldInt(fields, "totalCalls"),
			TotalTimeMs:  fieldInt(fields, "totalResponseTimeMs"),
			TotalTokens:  fieldInt(fields, "totalTokens"),
			SuccessCount: fieldInt(fields, "successCount"),
			ErrorCount:   fieldInt(fields, "errorCount"),
		}
		if daily.TotalCalls > 0 {
			calls := float64(daily.TotalCalls)
			daily.AvgResponseTime = float64(daily.TotalTimeMs) / calls
			daily.AvgTokens = float64(daily.TotalTokens) / calls
			daily.SuccessRate = float64(daily.SuccessCount) / calls * 100
		}
		metrics = append(metrics, daily)
	}
	return metrics, nil
}

// ErrorMetrics returns the endpoint's last-error record, or nil when no
// error has been recorded within the TTL.
func (m *Monitor) ErrorMetrics(ctx context.Context, endpoint string) (*ErrorRecord, error) {
	fields, err := m.store.HGetAll(ctx, errorsKeyPrefix+endpoint)
	if err != nil {
		return nil, fmt.Errorf("error metrics: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &ErrorRecord{
		Count:     fieldInt(fields, "count"),
		LastError: fields["lastError"],
	}
	if at, err := time.Parse(time.RFC3339, fields["lastErrorAt"]); err == nil {
		record.Timestamp = at
	}
	return record, nil
}

func (m *Monitor) metricsKey(endpoint string, day time.Time) string {
	return metricsKeyPrefix + endpoint + ":" + day.Format("2006-01-02")
}

func fieldInt(fields map[string]string, name string) int64 {
	n, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
