package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Outbound is the channel-agnostic payload handed to a sender.
type Outbound struct {
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
}

// Result is the explicit sender outcome the worker matches on to
// choose ack versus nack. Retryable distinguishes transient provider
// trouble from failures that can never succeed (e.g. a rejected
// recipient).
type Result struct {
	OK                bool
	Retryable         bool
	ProviderMessageID string
	Err               error
}

// Sender delivers one outbound payload to the channel's provider.
type Sender interface {
	Send(ctx context.Context, msg Outbound) Result
}

// ProviderSender posts payloads to an external delivery provider's
// HTTP endpoint.
type ProviderSender struct {
	url        string
	httpClient *http.Client
}

func NewProviderSender(url string) *ProviderSender {
	return &ProviderSender{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type providerResponse struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

func (p *ProviderSender) Send(ctx context.Context, msg Outbound) Result {
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{Err: fmt.Errorf("encoding outbound payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{Retryable: true, Err: fmt.Errorf("provider unreachable: %w", err)}
	}
	defer resp.Body.Close()

	var decoded providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{Retryable: true, Err: fmt.Errorf("decoding provider response: %w", err)}
	}

	switch {
	case decoded.Success:
		return Result{OK: true, ProviderMessageID: decoded.ProviderMessageID}
	case resp.StatusCode >= 500:
		return Result{Retryable: true, Err: fmt.Errorf("provider error: %s", decoded.Error)}
	default:
		return Result{Err: fmt.Errorf("provider rejected message: %s", decoded.Error)}
	}
}

// SimulatedSender logs the payload and reports success. Used when no
// provider is configured, mirroring a development environment without
// SMTP or FCM credentials.
type SimulatedSender struct {
	Channel string
	Log     zerolog.Logger
}

func (s SimulatedSender) Send(_ context.Context, msg Outbound) Result {
	s.Log.Info().
		Str("channel", s.Channel).
		Str("recipient", truncateRecipient(msg.Recipient)).
		Str("subject", msg.Subject).
		Msg("simulated delivery")
	return Result{
		OK:                true,
		ProviderMessageID: fmt.Sprintf("simulated-%d", time.Now().UnixNano()),
	}
}

func truncateRecipient(r string) string {
	if len(r) > 20 {
		return r[:20] + "..."
	}
	return r
}
