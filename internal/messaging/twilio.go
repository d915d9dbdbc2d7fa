package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.twilio.com"

// Provider error codes that mean the message body itself was refused. Retrying
// the same text is pointless; the dispatcher swaps to the fallback body instead.
var contentRejectedCodes = map[int]bool{
	21610: true, // recipient opted out
	21617: true, // body exceeds max length
	30007: true, // carrier content filter
}

// SendError is a non-2xx reply from the messaging provider.
type SendError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("messaging: provider rejected send (status=%d code=%d): %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus exposes the status for retry classification.
func (e *SendError) HTTPStatus() int {
	return e.StatusCode
}

// ContentRejected reports whether the provider refused the message body itself.
func (e *SendError) ContentRejected() bool {
	return contentRejectedCodes[e.Code]
}

// Client sends SMS through a Twilio-compatible REST endpoint.
type Client struct {
	// BaseURL is swapped for an httptest server in tests.
	BaseURL string

	accountSID       string
	authToken        string
	messagingService string
	http             *http.Client
	logger           *slog.Logger
}

func NewClient(accountSID, authToken, messagingService string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:          defaultAPIBase,
		accountSID:       accountSID,
		authToken:        authToken,
		messagingService: messagingService,
		http:             &http.Client{Timeout: 15 * time.Second},
		logger:           logger,
	}
}

// Configured reports whether credentials are present. An unconfigured client
// means the dispatcher should run in safe mode instead of erroring per send.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != "" && c.messagingService != ""
}

// Send posts one SMS and returns the provider's message id.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("MessagingServiceSid", c.messagingService)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.BaseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("messaging: failed to build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("messaging: send failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("messaging: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", decodeSendError(resp.StatusCode, raw)
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("messaging: failed to decode response: %w", err)
	}
	if out.SID == "" {
		return "", fmt.Errorf("messaging: provider accepted send but returned no message id")
	}
	return out.SID, nil
}

func decodeSendError(status int, raw []byte) error {
	sendErr := &SendError{StatusCode: status}

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		sendErr.Code = body.Code
		sendErr.Message = body.Message
	}
	if sendErr.Message == "" {
		sendErr.Message = strings.TrimSpace(string(raw))
	}
	return sendErr
}
