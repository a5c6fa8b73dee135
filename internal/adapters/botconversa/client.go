package botconversa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Error taxonomy for remote calls. Callers branch with errors.Is; no retries
// happen at this layer, the periodic sync is the retry mechanism.
var (
	// ErrInvalidPhoneFormat means the input phone never reached the platform.
	ErrInvalidPhoneFormat = errors.New("invalid phone format")
	// ErrRemoteUnavailable covers network failures and 5xx responses.
	ErrRemoteUnavailable = errors.New("botconversa unavailable")
	// ErrRemoteRejected covers 4xx responses other than 404.
	ErrRemoteRejected = errors.New("botconversa rejected request")
	// ErrRemoteNotFound means the subscriber does not exist upstream. This is
	// a valid outcome, not a defect.
	ErrRemoteNotFound = errors.New("botconversa subscriber not found")
)

// Client is a typed BotConversa API client for one account. It is a pure I/O
// boundary: no routing or reconciliation logic lives here.
type Client struct {
	httpClient *resty.Client
	account    string
}

// NewClient creates a BotConversa client authenticated with the account's
// API key.
func NewClient(baseURL, apiKey, account string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("BotConversa baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("BotConversa apiKey cannot be empty")
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("API-KEY", apiKey).
		SetTimeout(10 * time.Second)

	log.Info().Str("baseURL", baseURL).Str("account", account).Msg("BotConversa client configured")

	return &Client{httpClient: httpClient, account: account}, nil
}

// Account returns the configured account name.
func (c *Client) Account() string {
	return c.account
}

// GetSubscriberByPhone looks up a subscriber by phone number. Returns
// ErrRemoteNotFound when the platform has no subscriber for that phone.
func (c *Client) GetSubscriberByPhone(ctx context.Context, phone string) (*Subscriber, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	var sub Subscriber
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&sub).
		Get(fmt.Sprintf("/api/v1/webhook/subscriber/get_by_phone/%s/", normalized))
	if err := classify("GetSubscriberByPhone", resp, err); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriber creates a subscriber on the platform.
func (c *Client) CreateSubscriber(ctx context.Context, payload SubscriberPayload) (*Subscriber, error) {
	normalized, err := NormalizePhone(payload.Phone)
	if err != nil {
		return nil, err
	}
	payload.Phone = normalized

	var sub Subscriber
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&sub).
		Post("/api/v1/webhook/subscriber/")
	if err := classify("CreateSubscriber", resp, err); err != nil {
		return nil, err
	}
	log.Info().Int64("subscriberID", sub.ID).Str("phone", sub.Phone).Str("account", c.account).Msg("Created BotConversa subscriber")
	return &sub, nil
}

// AddTag attaches a tag to a subscriber.
func (c *Client) AddTag(ctx context.Context, subscriberID int64, tag string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/api/v1/webhook/subscriber/%d/tags/%s/", subscriberID, tag))
	return classify("AddTag", resp, err)
}

// RemoveTag detaches a tag from a subscriber.
func (c *Client) RemoveTag(ctx context.Context, subscriberID int64, tag string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/api/v1/webhook/subscriber/%d/tags/%s/", subscriberID, tag))
	return classify("RemoveTag", resp, err)
}

// SetCustomField sets a custom field value on a subscriber.
func (c *Client) SetCustomField(ctx context.Context, subscriberID int64, field, value string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(customFieldPayload{Value: value}).
		Post(fmt.Sprintf("/api/v1/webhook/subscriber/%d/custom_fields/%s/", subscriberID, field))
	return classify("SetCustomField", resp, err)
}

// ListMessages fetches the subscriber's full message history, newest first,
// following pagination until exhausted.
func (c *Client) ListMessages(ctx context.Context, subscriberID int64) ([]RemoteMessage, error) {
	var all []RemoteMessage
	url := fmt.Sprintf("/api/v1/webhook/subscriber/%d/messages/", subscriberID)
	for url != "" {
		var page messagePage
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetResult(&page).
			Get(url)
		if err := classify("ListMessages", resp, err); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		url = page.Next
	}
	return all, nil
}

// ListSubscribers fetches every subscriber of the account, following
// pagination until exhausted. Used by the periodic sync.
func (c *Client) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	var all []Subscriber
	url := "/api/v1/webhook/subscribers/"
	for url != "" {
		var page subscriberPage
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetResult(&page).
			Get(url)
		if err := classify("ListSubscribers", resp, err); err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		url = page.Next
	}
	return all, nil
}

// classify maps a resty response to the error taxonomy.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("BotConversa request failed")
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrRemoteNotFound, op)
	case status >= 500:
		log.Error().Str("op", op).Int("statusCode", status).Str("responseBody", resp.String()).Msg("BotConversa server error")
		return fmt.Errorf("%w: %s: status %s", ErrRemoteUnavailable, op, resp.Status())
	default:
		log.Error().Str("op", op).Int("statusCode", status).Str("responseBody", resp.String()).Msg("BotConversa rejected request")
		return fmt.Errorf("%w: %s: status %s, body: %s", ErrRemoteRejected, op, resp.Status(), resp.String())
	}
}
