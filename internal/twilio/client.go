// Package twilio sends SMS messages and places voice calls through the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"procurement_followup/platform/config"
	"procurement_followup/platform/logger"
	"procurement_followup/platform/phone"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

type Client struct {
	baseURL     string
	accountSID  string
	authToken   string
	from        string
	callbackURL string
	region      string
	http        *http.Client
	log         *logger.Logger
}

// Resource is the subset of Twilio's Message and Call resources we rely on.
type Resource struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// NewClient returns nil when Twilio is not configured.
func NewClient(cfg config.TwilioConfig, log *logger.Logger) *Client {
	if !cfg.IsTwilioEnabled() {
		return nil
	}

	return &Client{
		baseURL:     defaultBaseURL,
		accountSID:  cfg.GetTwilioAccountSID(),
		authToken:   cfg.GetTwilioAuthToken(),
		from:        phone.NormalizeE164InRegion(cfg.GetTwilioFromNumber(), cfg.GetTwilioDefaultRegion()),
		callbackURL: cfg.GetTwilioStatusCallbackURL(),
		region:      cfg.GetTwilioDefaultRegion(),
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Normalize formats a number the way this client sends it.
func (c *Client) Normalize(number string) string {
	return phone.NormalizeE164InRegion(number, c.region)
}

// SendSMS queues a text message and returns the Message SID.
func (c *Client) SendSMS(ctx context.Context, to, body string) (Resource, error) {
	form := url.Values{}
	form.Set("To", c.Normalize(to))
	form.Set("From", c.from)
	form.Set("Body", body)
	if c.callbackURL != "" {
		form.Set("StatusCallback", c.callbackURL)
	}

	res, err := c.post(ctx, "Messages.json", form)
	if err != nil {
		return Resource{}, err
	}
	c.log.Info("sms queued via twilio", "sid", res.SID, "status", res.Status)
	return res, nil
}

// PlaceCall dials the number, reads the message aloud and gathers a spoken answer.
// The answer arrives on the status callback URL as SpeechResult.
func (c *Client) PlaceCall(ctx context.Context, to, message string) (Resource, error) {
	form := url.Values{}
	form.Set("To", c.Normalize(to))
	form.Set("From", c.from)
	form.Set("Twiml", BuildGatherTwiML(message, c.callbackURL))
	if c.callbackURL != "" {
		form.Set("StatusCallback", c.callbackURL)
		form.Add("StatusCallbackEvent", "completed")
	}

	res, err := c.post(ctx, "Calls.json", form)
	if err != nil {
		return Resource{}, err
	}
	c.log.Info("voice call queued via twilio", "sid", res.SID, "status", res.Status)
	return res, nil
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) (Resource, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", strings.TrimRight(c.baseURL, "/"), c.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Resource{}, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return Resource{}, fmt.Errorf("twilio returned %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return Resource{}, fmt.Errorf("twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var res Resource
	if err := json.Unmarshal(data, &res); err != nil {
		return Resource{}, fmt.Errorf("decode twilio response: %w", err)
	}
	if res.SID == "" {
		return Resource{}, fmt.Errorf("twilio response missing sid")
	}
	return res, nil
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Say           twimlSay
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Gather  twimlGather
	Say     *twimlSay
}

// BuildGatherTwiML renders the call script: speak the message, then listen for an answer.
func BuildGatherTwiML(message, actionURL string) string {
	doc := twimlResponse{
		Gather: twimlGather{
			Input:         "speech",
			Action:        actionURL,
			SpeechTimeout: "auto",
			Say:           twimlSay{Text: message},
		},
		Say: &twimlSay{Text: "We did not receive an answer. We will follow up by message. Goodbye."},
	}
	if actionURL != "" {
		doc.Gather.Method = http.MethodPost
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "<Response><Say>" + message + "</Say></Response>"
	}
	return string(out)
}
