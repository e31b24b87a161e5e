package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const resendReceivingURL = "https://api.resend.com/emails/receiving/"

// Content is the body of an inbound message fetched by reference.
type Content struct {
	Subject   string
	From      string
	Text      string
	HTML      string
	InReplyTo string
}

// ContentFetcher loads inbound message content the webhook only referenced.
type ContentFetcher interface {
	FetchContent(ctx context.Context, contentID string) (Content, error)
}

// ResendContentFetcher reads received emails from the Resend API.
type ResendContentFetcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewResendContentFetcher(apiKey string) *ResendContentFetcher {
	return &ResendContentFetcher{
		apiKey:   apiKey,
		endpoint: resendReceivingURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type resendReceivedEmail struct {
	Subject string            `json:"subject"`
	From    string            `json:"from"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers"`
}

func (f *ResendContentFetcher) FetchContent(ctx context.Context, contentID string) (Content, error) {
	if strings.TrimSpace(contentID) == "" {
		return Content{}, fmt.Errorf("resend: empty content id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+url.PathEscape(contentID), nil)
	if err != nil {
		return Content{}, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Content{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Content{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Content{}, fmt.Errorf("resend: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded resendReceivedEmail
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Content{}, fmt.Errorf("resend: decode: %w", err)
	}

	content := Content{Subject: decoded.Subject, From: decoded.From, Text: decoded.Text, HTML: decoded.HTML}
	for k, v := range decoded.Headers {
		if strings.EqualFold(k, "In-Reply-To") {
			content.InReplyTo = v
		}
	}
	return content, nil
}

// enrich fills missing reply fields from fetched content.
func (c Content) enrich(cb *Callback) {
	if cb.Response == "" {
		cb.Response = emailReplyText(c.Text, c.HTML)
	}
	if cb.Meta(MetaSubject) == "" {
		cb.setMeta(MetaSubject, c.Subject)
	}
	if cb.Meta(MetaFrom) == "" {
		cb.setMeta(MetaFrom, emailAddress(c.From))
	}
	if cb.Meta(MetaInReplyTo) == "" {
		cb.setMeta(MetaInReplyTo, c.InReplyTo)
	}
}
