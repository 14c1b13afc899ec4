package calibd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// CallbackSecretHeader carries the per-run callback secret
const CallbackSecretHeader = "X-Calibration-Callback-Secret"

// Callback is where a run reports its terminal state
type Callback struct {
	URL    string
	Secret string
}

// NotificationPayload is the JSON body posted to a callback URL
type NotificationPayload struct {
	RunID           string         `json:"run_id"`
	Status          Status         `json:"status"`
	CreatedAtUnixMs int64          `json:"created_at_unix_ms"`
	StartedAtUnixMs int64          `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64          `json:"ended_at_unix_ms,omitempty"`
	Error           string         `json:"error,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Timestamp       int64          `json:"timestamp"`
}

// NotifierOptions tunes delivery; zero values take the defaults
type NotifierOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
}

// Notifier posts terminal run states to callback URLs
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
	log        *slog.Logger
	wg         sync.WaitGroup
}

func NewNotifier(opts NotifierOptions) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default
	}
	return &Notifier{
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		backoff:    utils.NewExponentialBackoff(opts.BaseDelay, 30*opts.BaseDelay, 2, false),
		log:        opts.Logger,
	}
}

// Notify sends rec to its callback in the background. Records without a
// callback URL are ignored.
func (n *Notifier) Notify(rec *RunRecord) {
	if rec == nil || rec.Callback.URL == "" {
		return
	}
	payload := NotificationPayload{
		RunID:           rec.Run.ID,
		Status:          rec.Run.Status,
		CreatedAtUnixMs: rec.Run.CreatedAtUnixMs,
		StartedAtUnixMs: rec.Run.StartedAtUnixMs,
		EndedAtUnixMs:   rec.Run.EndedAtUnixMs,
		Error:           rec.Run.Error,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}
	if rec.Result != nil {
		payload.Result = convertResultToJSON(rec.Result)
	}
	url := strings.ReplaceAll(rec.Callback.URL, "{run_id}", rec.Run.ID)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(url, rec.Callback.Secret, payload)
	}()
}

// Wait blocks until pending deliveries have finished or given up
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(url, secret string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("failed to marshal notification payload", "run_id", payload.RunID, "error", err)
		return
	}

	attempt := 0
	err = utils.Retry(context.Background(), n.maxRetries+1, n.backoff, func() error {
		attempt++
		err := n.post(url, secret, body)
		if err != nil {
			n.log.Warn("notification attempt failed",
				"callback_url", url,
				"run_id", payload.RunID,
				"attempt", attempt,
				"error", err)
		}
		return err
	})
	if err != nil {
		n.log.Error("failed to send notification after retries",
			"callback_url", url,
			"run_id", payload.RunID,
			"status", payload.Status,
			"attempts", attempt,
			"last_error", err)
		return
	}
	n.log.Info("notification sent", "run_id", payload.RunID, "status", payload.Status)
}

func (n *Notifier) post(url, secret string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "calibration-core/1.0")
	if secret != "" {
		req.Header.Set(CallbackSecretHeader, secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, snippet)
}
