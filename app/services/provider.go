// Package services provides external service integrations and technical concerns like providers and rendering
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calliopehq/calliope/config"
	"github.com/calliopehq/calliope/models"
	"github.com/google/uuid"
)

// OutboundMessage is a fully rendered message ready for a provider
type OutboundMessage struct {
	TenantID    uint
	ConsumerID  uint
	Channel     models.StepType
	Destination string
	Subject     string
	Body        string
}

// ProviderClient sends one rendered message and returns the provider's
// message identifier for delivery correlation.
type ProviderClient interface {
	Send(ctx context.Context, msg OutboundMessage) (externalID string, err error)
}

// ProviderError wraps a send failure with a transience flag. Transient
// failures are worth retrying; permanent ones are not.
type ProviderError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider error (%s, status %d): %v", kind, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is a retryable provider failure.
// Network-level errors without a ProviderError wrapper count as transient.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return err != nil
}

// HTTPSMSProvider sends SMS through a JSON-over-HTTP gateway
type HTTPSMSProvider struct {
	config *config.SMSProviderConfig
	client *http.Client
}

// smsRequest represents the request payload for the SMS API
type smsRequest struct {
	SrcNum    string `json:"srcNum"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Type      int    `json:"type"`
}

// smsResponse represents the message result from the SMS API
type smsResponse struct {
	MessageID  int64  `json:"messageId"`
	Recipient  string `json:"recipient"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
}

// NewHTTPSMSProvider creates a new HTTP SMS provider instance
func NewHTTPSMSProvider(cfg *config.SMSProviderConfig) ProviderClient {
	return &HTTPSMSProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send posts the message to the gateway and returns its message ID
func (p *HTTPSMSProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload := smsRequest{
		SrcNum:    p.config.SourceNumber,
		Recipient: msg.Destination,
		Body:      msg.Body,
		Type:      1,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", &ProviderError{Transient: false, Err: fmt.Errorf("failed to marshal SMS request: %w", err)}
	}

	url := fmt.Sprintf("https://%s/api/v3.0.1/send", p.config.ProviderDomain)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", &ProviderError{Transient: false, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ProviderError{Transient: true, Err: fmt.Errorf("failed to send SMS request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &ProviderError{Transient: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Transient: false, StatusCode: resp.StatusCode, Err: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	}

	var result smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{Transient: true, Err: fmt.Errorf("failed to decode SMS response: %w", err)}
	}
	if result.StatusCode != 200 || result.Status != "ACCEPTED" {
		return "", &ProviderError{Transient: false, StatusCode: result.StatusCode, Err: fmt.Errorf("SMS rejected for %s: %s", result.Recipient, result.Status)}
	}

	return strconv.FormatInt(result.MessageID, 10), nil
}

// HTTPEmailProvider sends email and signature requests through a JSON-over-HTTP API
type HTTPEmailProvider struct {
	config *config.EmailProviderConfig
	client *http.Client
}

type emailRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Signature bool   `json:"signature,omitempty"`
}

type emailResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// NewHTTPEmailProvider creates a new HTTP email provider instance
func NewHTTPEmailProvider(cfg *config.EmailProviderConfig) ProviderClient {
	return &HTTPEmailProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send posts the message to the email API and returns its message ID
func (p *HTTPEmailProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload := emailRequest{
		From:      p.config.FromAddress,
		To:        msg.Destination,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Signature: msg.Channel == models.StepTypeSignatureRequest,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", &ProviderError{Transient: false, Err: fmt.Errorf("failed to marshal email request: %w", err)}
	}

	url := fmt.Sprintf("https://%s/v1/messages", p.config.ProviderDomain)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", &ProviderError{Transient: false, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ProviderError{Transient: true, Err: fmt.Errorf("failed to send email request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &ProviderError{Transient: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("email API returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", &ProviderError{Transient: false, StatusCode: resp.StatusCode, Err: fmt.Errorf("email API returned %d", resp.StatusCode)}
	}

	var result emailResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{Transient: true, Err: fmt.Errorf("failed to decode email response: %w", err)}
	}

	return result.MessageID, nil
}

// MockProvider implements ProviderClient for development and testing
type MockProvider struct {
	mu           sync.Mutex
	SentMessages []MockSentMessage

	// FailNext makes the next N sends fail with a transient error.
	FailNext int
	// FailPermanently makes every send fail with a permanent error.
	FailPermanently bool
}

// MockSentMessage records one send accepted by the mock
type MockSentMessage struct {
	Message    OutboundMessage
	ExternalID string
	SentAt     time.Time
}

// NewMockProvider creates a new mock provider instance
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send records the message and returns a generated external ID
func (p *MockProvider) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailPermanently {
		return "", &ProviderError{Transient: false, Err: errors.New("mock permanent failure")}
	}
	if p.FailNext > 0 {
		p.FailNext--
		return "", &ProviderError{Transient: true, Err: errors.New("mock transient failure")}
	}

	externalID := uuid.New().String()
	p.SentMessages = append(p.SentMessages, MockSentMessage{
		Message:    msg,
		ExternalID: externalID,
		SentAt:     time.Now().UTC(),
	})

	return externalID, nil
}

// Sent returns a copy of the messages the mock has accepted
func (p *MockProvider) Sent() []MockSentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MockSentMessage, len(p.SentMessages))
	copy(out, p.SentMessages)
	return out
}
