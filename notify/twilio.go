package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// Twilio sends SMS through the Twilio Messages REST API.
type Twilio struct {
	AccountSID string
	AuthToken  string
	From       string

	baseURL string
	client  *http.Client
}

// NewTwilio returns a gateway for the given account.
func NewTwilio(accountSID, authToken, from string) *Twilio {
	return &Twilio{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		baseURL:    defaultTwilioBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the gateway at another API host, e.g. a test server.
func (t *Twilio) WithBaseURL(u string) *Twilio {
	t.baseURL = strings.TrimSuffix(u, "/")
	return t
}

func (t *Twilio) Send(ctx context.Context, to, body string) error {
	if err := validateMessage(to, body); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("From", t.From)
	form.Set("To", to)
	form.Set("Body", strings.TrimSpace(body))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create twilio request: %w", err)
	}
	req.SetBasicAuth(t.AccountSID, t.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send twilio message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("twilio API returned status %d", resp.StatusCode)
	}
	return nil
}
