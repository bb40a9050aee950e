package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// LogSink writes events to the application log. Always available; used
// as the fallback when no webhook is configured.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a LogSink writing to the given logger.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &LogSink{logger: logger}
}

// Notify logs the event at info level.
func (s *LogSink) Notify(_ context.Context, event Event) error {
	kv := []any{"kind", event.Kind}
	for k, v := range event.Payload {
		kv = append(kv, k, v)
	}
	s.logger.Info("notification", kv...)
	return nil
}

// WebhookSink POSTs events as JSON to a configured URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a WebhookSink for the given URL.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, httpClient: client}
}

// Notify delivers the event. Failures are returned so the caller can log
// them, but delivery is best-effort and never retried.
func (s *WebhookSink) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// FilterSink wraps another sink and drops event kinds the configuration
// has toggled off.
type FilterSink struct {
	inner NotificationSink
	cfg   shared.NotificationsConfig
}

// NewFilterSink creates a FilterSink applying the notification toggles.
func NewFilterSink(inner NotificationSink, cfg shared.NotificationsConfig) *FilterSink {
	return &FilterSink{inner: inner, cfg: cfg}
}

// Notify forwards enabled event kinds to the wrapped sink.
func (s *FilterSink) Notify(ctx context.Context, event Event) error {
	if !s.cfg.Enabled {
		return nil
	}

	switch event.Kind {
	case EventNewTracks:
		if !s.cfg.OnNewTracks {
			return nil
		}
	case EventTrackDownloaded, EventTrackDownloadFailed, EventDownloadsComplete:
		if !s.cfg.OnDownloadComplete {
			return nil
		}
	case EventCycleError:
		if !s.cfg.OnError {
			return nil
		}
	}

	return s.inner.Notify(ctx, event)
}

// MultiSink fans an event out to several sinks; the first error is
// returned after all sinks have been tried.
type MultiSink struct {
	sinks []NotificationSink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...NotificationSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Notify delivers the event to every sink.
func (s *MultiSink) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
