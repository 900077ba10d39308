package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"breathguard/internal/types"
)

// Buzzer tone patterns understood by the sensing node firmware.
const (
	patternAlarmCritical = "alarm_fast"
	patternAlarmWarning  = "alarm_slow"
	patternSilence       = "silence"
)

// Compile-time assertion that BuzzerChannel implements Channel.
var _ Channel = (*BuzzerChannel)(nil)

// BuzzerChannel drives the audible buzzer on the sensing node over its local
// HTTP actuation endpoint. Calls are routed through a circuit breaker so a
// powered-off node fails fast instead of eating the attempt timeout on every
// retry.
type BuzzerChannel struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*SendResult]
	logger     types.Logger
}

// NewBuzzerChannel creates a BuzzerChannel posting to the given node URL.
func NewBuzzerChannel(url string, httpClient *http.Client, logger types.Logger) *BuzzerChannel {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &BuzzerChannel{
		url:        url,
		httpClient: httpClient,
		breaker:    newChannelBreaker("buzzer"),
		logger:     logger,
	}
}

// Type returns the buzzer channel identifier.
func (c *BuzzerChannel) Type() types.ChannelType {
	return types.ChannelBuzzer
}

// Send posts the tone pattern for the event to the node. A stand-down action
// silences the buzzer; escalations select the pattern by target level.
func (c *BuzzerChannel) Send(ctx context.Context, p Payload) (*SendResult, error) {
	body, err := json.Marshal(map[string]string{
		"pattern":  c.pattern(p),
		"event_id": p.Event.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("buzzer: marshal payload: %w", err)
	}

	return c.breaker.Execute(func() (*SendResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("buzzer: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network faults and context timeouts are transient.
			return nil, &TransientError{Err: fmt.Errorf("buzzer: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &SendResult{}, nil
		}

		snippet := readBodySnippet(resp.Body)
		errResp := types.NewAppError(types.ErrCodeUpstreamBuzzer,
			fmt.Sprintf("buzzer returned status %d: %s", resp.StatusCode, snippet), nil)
		if statusRetryable(resp.StatusCode) {
			return nil, &TransientError{Err: errResp}
		}
		return nil, errResp
	})
}

// ShouldRetry reports whether the send error is transient.
func (c *BuzzerChannel) ShouldRetry(err error) bool {
	return IsTransient(err)
}

func (c *BuzzerChannel) pattern(p Payload) string {
	if p.Action == ActionStandDown {
		return patternSilence
	}
	if p.Event.ToLevel == types.LevelCritical {
		return patternAlarmCritical
	}
	return patternAlarmWarning
}
