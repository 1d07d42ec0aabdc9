package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioSMS sends SMS through the Twilio Messages REST API.
type TwilioSMS struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Client     *http.Client
}

func NewTwilioSMS(accountSID, authToken, from string) *TwilioSMS {
	return &TwilioSMS{
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       from,
		BaseURL:    defaultTwilioBaseURL,
		Client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Configured reports whether all credentials are present.
func (t *TwilioSMS) Configured() bool {
	return t != nil && t.AccountSID != "" && t.AuthToken != "" && t.From != ""
}

func (t *TwilioSMS) Send(ctx context.Context, to, body string) (Receipt, error) {
	if !t.Configured() {
		return Receipt{}, ErrNotConfigured
	}
	if strings.TrimSpace(to) == "" {
		return Receipt{}, &ProviderError{Provider: "twilio", StatusCode: http.StatusBadRequest, Message: "empty destination"}
	}
	form := url.Values{"To": {to}, "From": {t.From}, "Body": {body}}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(t.BaseURL, "/"), url.PathEscape(t.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.AccountSID, t.AuthToken)

	resp, err := t.Client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		SID     string `json:"sid"`
		Status  string `json:"status"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 300 {
		return Receipt{}, &ProviderError{Provider: "twilio", StatusCode: resp.StatusCode, Code: out.Code, Message: out.Message}
	}
	// A 2xx without a message SID cannot be confirmed as queued.
	if decodeErr != nil || out.SID == "" {
		msg := "missing message sid"
		if decodeErr != nil {
			msg = "unreadable response: " + decodeErr.Error()
		}
		return Receipt{}, &ProviderError{Provider: "twilio", StatusCode: resp.StatusCode, Message: msg}
	}
	return Receipt{ID: out.SID, Status: out.Status}, nil
}
