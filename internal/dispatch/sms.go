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

// Compile-time assertion that SMSChannel implements Channel.
var _ Channel = (*SMSChannel)(nil)

// SMSConfig holds the gateway endpoint and credentials for the SMS channel.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	From       string
}

// SMSChannel relays critical alerts through an HTTP SMS gateway. Provider
// specifics stay behind the single gateway endpoint; only the success,
// failure, or timeout signal matters here.
type SMSChannel struct {
	cfg        SMSConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*SendResult]
	logger     types.Logger
}

// NewSMSChannel creates an SMSChannel for the given gateway.
func NewSMSChannel(cfg SMSConfig, httpClient *http.Client, logger types.Logger) *SMSChannel {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SMSChannel{
		cfg:        cfg,
		httpClient: httpClient,
		breaker:    newChannelBreaker("sms"),
		logger:     logger,
	}
}

// Type returns the SMS channel identifier.
func (c *SMSChannel) Type() types.ChannelType {
	return types.ChannelSMS
}

// Send posts the alert text to the gateway. A missing destination number is
// a permanent failure for this event; retrying cannot fix it.
func (c *SMSChannel) Send(ctx context.Context, p Payload) (*SendResult, error) {
	if p.Phone == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamSMSGateway,
			"no alert phone configured for patient", nil)
	}

	body, err := json.Marshal(map[string]string{
		"to":   p.Phone,
		"from": c.cfg.From,
		"body": smsText(p),
	})
	if err != nil {
		return nil, fmt.Errorf("sms: marshal payload: %w", err)
	}

	return c.breaker.Execute(func() (*SendResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("sms: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransientError{Err: fmt.Errorf("sms: %w", err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &SendResult{ProviderMessageID: extractMessageID(resp)}, nil
		}

		snippet := readBodySnippet(resp.Body)
		errResp := types.NewAppError(types.ErrCodeUpstreamSMSGateway,
			fmt.Sprintf("sms gateway returned status %d: %s", resp.StatusCode, snippet), nil)
		if statusRetryable(resp.StatusCode) {
			return nil, &TransientError{Err: errResp}
		}
		return nil, errResp
	})
}

// ShouldRetry reports whether the send error is transient.
func (c *SMSChannel) ShouldRetry(err error) bool {
	return IsTransient(err)
}

// smsText renders the message body for an alert event.
func smsText(p Payload) string {
	name := p.PatientName
	if name == "" {
		name = p.Event.PatientID
	}
	return fmt.Sprintf("BreathGuard: %s respiratory risk for %s (score %.2f). Check on the patient now.",
		p.Event.ToLevel, name, p.Event.Score)
}

// extractMessageID pulls the provider message ID out of the gateway response
// body. Best effort; a gateway that returns nothing usable yields "".
func extractMessageID(resp *http.Response) string {
	var parsed struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	data := readBodySnippet(resp.Body)
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return ""
	}
	if parsed.MessageID != "" {
		return parsed.MessageID
	}
	return parsed.ID
}
