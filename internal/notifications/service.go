package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"castindex/internal/config"
)

const userAgent = "castindex/0.1.0"

// Event names a pipeline milestone that may produce a notification.
type Event string

const (
	EventRunStarted      Event = "run_started"
	EventRunCompleted    Event = "run_completed"
	EventIngestCompleted Event = "ingest_completed"
	EventStageFailed     Event = "stage_failed"
	EventError           Event = "error"
	EventTest            Event = "test"
)

// Payload carries event-specific values keyed by name.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		runSummary: cfg.Notifications.RunSummary,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	runSummary bool
	errors     bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, values Payload) error {
	data, ok := n.format(event, values)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) format(event Event, values Payload) (payload, bool) {
	switch event {
	case EventRunCompleted:
		if !n.runSummary {
			return payload{}, false
		}
		completed := intValue(values, "completed")
		partial := intValue(values, "partial")
		failed := intValue(values, "failed")
		duration := durationText(values["duration"])
		title := "castindex - Run Complete"
		message := fmt.Sprintf("Pipeline run complete: %d items finished in %s", completed, duration)
		if failed > 0 || partial > 0 {
			title = "castindex - Run Complete (with errors)"
			message = fmt.Sprintf("Pipeline run complete: %d finished, %d partial, %d failed in %s", completed, partial, failed, duration)
		}
		if analyzed := intValue(values, "analyzed"); analyzed > 0 {
			message = fmt.Sprintf("%s\nIndex covers %d episodes", message, analyzed)
		}
		return payload{title: title, message: message, tags: []string{"castindex", "run", "completed"}}, true
	case EventIngestCompleted:
		if !n.runSummary {
			return payload{}, false
		}
		return payload{
			title:   "castindex - Ingest Complete",
			message: fmt.Sprintf("Ingested %d new episodes (%d downloads)", intValue(values, "added"), intValue(values, "downloaded")),
			tags:    []string{"castindex", "ingest", "completed"},
		}, true
	case EventStageFailed:
		if !n.errors {
			return payload{}, false
		}
		return payload{
			title:   "castindex - Stage Failed",
			message: fmt.Sprintf("%s failed for %s: %s", stringValue(values, "stage"), stringValue(values, "item"), stringValue(values, "error")),
			tags:    []string{"castindex", "stage", "failed"},
		}, true
	case EventError:
		if !n.errors {
			return payload{}, false
		}
		var builder strings.Builder
		builder.WriteString("Error")
		if label := stringValue(values, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if msg := stringValue(values, "error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "castindex - Error",
			message:  builder.String(),
			tags:     []string{"castindex", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "castindex - Test",
			message:  "Notification system test",
			tags:     []string{"castindex", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func stringValue(values Payload, key string) string {
	switch v := values[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func intValue(values Payload, key string) int {
	switch v := values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func durationText(value any) string {
	d, _ := value.(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
