package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/marketplace-ops/internal/pkg/httpretry"
	"github.com/nyaruka/phonenumbers"
)

// SMSGatewaySender delivers the sms channel through an HTTP JSON gateway.
// Transport-level retries (429 and 5xx) happen inside the retry client;
// route-level retries and fallbacks are decided by the router.
type SMSGatewaySender struct {
	client        httpretry.HTTPDoer
	url           string
	apiKey        string
	defaultRegion string
}

// SMSOption configures an SMSGatewaySender.
type SMSOption func(*SMSGatewaySender)

// WithDefaultRegion sets the ISO region used to read numbers written
// without a country code, e.g. "KE" for 0712345678.
func WithDefaultRegion(region string) SMSOption {
	return func(s *SMSGatewaySender) { s.defaultRegion = region }
}

// NewSMSGatewaySender creates a sender posting to url.
func NewSMSGatewaySender(client httpretry.HTTPDoer, url, apiKey string, opts ...SMSOption) *SMSGatewaySender {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	s := &SMSGatewaySender{client: client, url: url, apiKey: apiKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normalizePhone returns num in E.164 form.
func (s *SMSGatewaySender) normalizePhone(num string) (string, error) {
	parsed, err := phonenumbers.Parse(num, s.defaultRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("not a valid number")
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

type smsRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Send posts msg to the gateway.
func (s *SMSGatewaySender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, ErrNoAddress
	}

	to, err := s.normalizePhone(msg.To)
	if err != nil {
		return Receipt{}, &SendError{Code: "invalid_phone", Err: err}
	}

	payload, err := json.Marshal(smsRequest{To: to, Message: msg.Body, Reference: msg.NotificationID})
	if err != nil {
		return Receipt{}, &SendError{Code: "encode_failed", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, &SendError{Code: "bad_request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, &SendError{Code: "gateway_unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body smsResponse
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := body.Error
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return Receipt{}, &SendError{
			Code: fmt.Sprintf("http_%d", resp.StatusCode),
			Err:  fmt.Errorf("sms gateway: %s", detail),
		}
	}

	return Receipt{Provider: "sms-gateway", ProviderID: body.ID}, nil
}
