// Package cloudclient implements the small set of HTTP calls the
// Gateway makes outward (§4.6, §4.7, §6 "Cloud endpoints"): the chat
// webhook, the time-series sink, the cloud log uplink, and the config
// pull/ack pair. Retry policy is per-endpoint and matches §7's error
// handling table.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Client holds the shared *http.Client and base script URL used by
// every cloud call a Gateway makes.
type Client struct {
	HTTP      *http.Client
	ScriptURL string
}

// New builds a Client with a sane request timeout, matching the
// teacher's preference for explicit client construction over the
// package-level http.DefaultClient.
func New(scriptURL string) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 15 * time.Second},
		ScriptURL: scriptURL,
	}
}

// ConfigRow is one sensor/node row in the cloud config response
// (§6 Config pull).
type ConfigRow struct {
	MAC          string `json:"mac"`
	Name         string `json:"name"`
	Node         string `json:"node"`
	Use          bool   `json:"use"`
	Warn         string `json:"warn"`
	AmbientConf  string `json:"ambient_conf"`
	DiscordToken string `json:"discord_token"`
	Memo         string `json:"memo"`
}

type configHeader struct {
	Date string `json:"date"`
}

// PullConfig GETs ?sens=sensor and parses the response: the first
// array element carries the config timestamp, the rest are sensor
// rows (§4.7, §6).
func (c *Client) PullConfig(ctx context.Context) (time.Time, []ConfigRow, error) {
	u := c.ScriptURL + "?sens=sensor"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: decode: %w", err)
	}
	if len(raw) == 0 {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: empty response")
	}

	var header configHeader
	if err := json.Unmarshal(raw[0], &header); err != nil {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: decode header: %w", err)
	}
	updatedAt, err := time.Parse("2006/01/02 15:04:05", header.Date)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: parse date %q: %w", header.Date, err)
	}

	rows := make([]ConfigRow, 0, len(raw)-1)
	for _, item := range raw[1:] {
		var row ConfigRow
		if err := json.Unmarshal(item, &row); err != nil {
			return time.Time{}, nil, fmt.Errorf("cloudclient: pull_config: decode row: %w", err)
		}
		rows = append(rows, row)
	}
	return updatedAt, rows, nil
}

// Ack GETs ?sens=ack&mess=<text>, retrying up to 5 times at 10 s on
// non-200 (§4.7).
func (c *Client) Ack(ctx context.Context, mess string) error {
	u := c.ScriptURL + "?sens=ack&mess=" + url.QueryEscape(mess)
	return retryGet(ctx, c.HTTP, u, 5, 10*time.Second)
}

func retryGet(ctx context.Context, httpClient *http.Client, u string, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("cloudclient: build request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("cloudclient: %d attempts exhausted: %w", attempts, lastErr)
}

const discordWebhookBase = "https://discord.com/api/webhooks/"

// ChatClient posts to a Discord-compatible chat webhook (§6 Chat
// webhook). BaseURL defaults to Discord's own webhook path; tests
// override it to point at an httptest server.
type ChatClient struct {
	HTTP    *http.Client
	BaseURL string
}

// NewChatClient builds a ChatClient with its own short-timeout client.
func NewChatClient() *ChatClient {
	return &ChatClient{HTTP: &http.Client{Timeout: 10 * time.Second}, BaseURL: discordWebhookBase}
}

// Post sends text to the webhook named by token. HTTP 403 is treated
// as rate-limiting: wait 3 s and retry once; any other non-200 is
// logged by the caller and not retried (§7).
func (c *ChatClient) Post(ctx context.Context, token, text string) error {
	u := c.BaseURL + token
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("cloudclient: chat: marshal: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("cloudclient: chat: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("cloudclient: chat: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		if resp.StatusCode == http.StatusForbidden && attempt == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		return fmt.Errorf("cloudclient: chat: status %d", resp.StatusCode)
	}
	return fmt.Errorf("cloudclient: chat: rate-limited after retry")
}

// TimeSeriesPoint is one cycle's payload for a time-series channel
// (§6 Time-series sink): up to 8 named data slots plus a created
// timestamp.
type TimeSeriesPoint struct {
	ChannelID string
	WriteKey  string
	Fields    map[string]float64 // keys "d1".."d8"
	Created   time.Time
}

// TimeSeriesClient posts to a ThingSpeak/Ambient-style per-channel
// time-series sink (§6).
type TimeSeriesClient struct {
	HTTP    *http.Client
	BaseURL string
}

// NewTimeSeriesClient builds a TimeSeriesClient against baseURL.
func NewTimeSeriesClient(baseURL string) *TimeSeriesClient {
	return &TimeSeriesClient{HTTP: &http.Client{Timeout: 10 * time.Second}, BaseURL: baseURL}
}

// Post sends one point, retrying up to 3 times at 2 s backoff; HTTP
// 403 waits 3 s before the next attempt (§4.6).
func (c *TimeSeriesClient) Post(ctx context.Context, p TimeSeriesPoint) error {
	payload := map[string]any{"created": p.Created.Unix()}
	for k, v := range p.Fields {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloudclient: timeseries: marshal: %w", err)
	}

	u := fmt.Sprintf("%s/channels/%s/data", c.BaseURL, url.PathEscape(p.ChannelID))
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("cloudclient: timeseries: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Write-Key", p.WriteKey)
		resp, err := c.HTTP.Do(req)
		wait := 2 * time.Second
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			if resp.StatusCode == http.StatusForbidden {
				wait = 3 * time.Second
			}
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("cloudclient: timeseries: %w", err)
		}
		return fmt.Errorf("cloudclient: timeseries: status %d", resp.StatusCode)
	}
	return fmt.Errorf("cloudclient: timeseries: attempts exhausted")
}

// LogRow is one reading serialised for the cloud log uplink (§6 Log
// uplink): date as Unix seconds, node/ambient_conf metadata omitted.
type LogRow struct {
	MAC    string  `json:"mac"`
	Date   int64   `json:"date"`
	Templ  float64 `json:"templ"`
	Humid  float64 `json:"humid"`
	Batt   float64 `json:"batt"`
	RSSI   int     `json:"rssi"`
	Ext    int     `json:"ext"`
	Light  float64 `json:"light"`
	Status int     `json:"status"`
}

// defaultConnectionErrorMessage is the fixed ACK text used when the
// log uplink fails before any HTTP status is obtained (§4.6, §9).
const defaultConnectionErrorMessage = "connection error"

// PushLog POSTs rows as a JSON array, retrying up to 3 times at 3 s
// backoff (§4.6 Cloud log uplink). It returns the text to ACK back to
// the cloud regardless of outcome.
func (c *Client) PushLog(ctx context.Context, rows []LogRow) (ackMessage string, err error) {
	body, err := json.Marshal(rows)
	if err != nil {
		return defaultConnectionErrorMessage, fmt.Errorf("cloudclient: push_log: marshal: %w", err)
	}
	// A fresh id per call lets the receiving script dedupe a batch that
	// was accepted but whose response never reached a retrying client.
	batchID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.ScriptURL, bytes.NewReader(body))
		if reqErr != nil {
			return defaultConnectionErrorMessage, fmt.Errorf("cloudclient: push_log: build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Batch-Id", batchID)
		resp, doErr := c.HTTP.Do(req)
		if doErr != nil {
			lastErr = doErr
		} else {
			status := resp.StatusCode
			resp.Body.Close()
			if status == http.StatusOK {
				return "ok", nil
			}
			lastErr = fmt.Errorf("status %d", status)
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return defaultConnectionErrorMessage, ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	// No attempt succeeded, whether through connection errors or
	// non-200 statuses: return the fixed default rather than an
	// uninitialised message (§4.6, §9).
	return defaultConnectionErrorMessage, fmt.Errorf("cloudclient: push_log: attempts exhausted: %w", lastErr)
}
