package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a Twilio-compatible messaging HTTP API. One Client per
// tenant credential set; the resolver owns the cache.
type Client struct {
	AccountID string
	AuthToken string
	HTTP      *http.Client
	BaseURL   string
}

type sendResponse struct {
	Sid         string `json:"sid"`
	Status      string `json:"status"`
	NumSegments string `json:"num_segments"`
	ErrorCode   *int   `json:"error_code"`
	Message     string `json:"message"`
}

func (c *Client) baseURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return base
}

func (c *Client) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	form := url.Values{}
	form.Set("To", in.To)
	form.Set("From", in.From)
	form.Set("Body", in.Body)
	if in.StatusCallbackURL != "" {
		form.Set("StatusCallback", in.StatusCallbackURL)
	}

	endpoint := c.baseURL() + "/2010-04-01/Accounts/" + c.AccountID + "/Messages.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendOutput{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountID, c.AuthToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendOutput{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out sendResponse
	_ = json.Unmarshal(b, &out)

	// 201 for created; treat any 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return SendOutput{}, errors.New(out.Message)
		}
		return SendOutput{}, errors.New("gateway send failed: status " + strconv.Itoa(resp.StatusCode))
	}

	segments := 1
	if n, err := strconv.Atoi(out.NumSegments); err == nil && n > 0 {
		segments = n
	}
	return SendOutput{ExternalID: out.Sid, Status: out.Status, Segments: segments}, nil
}

type historyPage struct {
	Messages []struct {
		To        string `json:"to"`
		From      string `json:"from"`
		Body      string `json:"body"`
		Status    string `json:"status"`
		ErrorCode *int   `json:"error_code"`
		Direction string `json:"direction"`
		DateSent  string `json:"date_sent"`
	} `json:"messages"`
	NextPageURI string `json:"next_page_uri"`
}

// ListMessages pages through the account's message log, newest first,
// stopping at entries older than since.
func (c *Client) ListMessages(ctx context.Context, since time.Time) ([]HistoryMessage, error) {
	path := "/2010-04-01/Accounts/" + c.AccountID + "/Messages.json?PageSize=200" +
		"&DateSent%3E=" + url.QueryEscape(since.UTC().Format("2006-01-02"))

	var out []HistoryMessage
	for path != "" {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
		if err != nil {
			return out, err
		}
		httpReq.SetBasicAuth(c.AccountID, c.AuthToken)

		resp, err := c.HTTP.Do(httpReq)
		if err != nil {
			return out, err
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return out, errors.New("gateway history fetch failed: status " + strconv.Itoa(resp.StatusCode))
		}

		var page historyPage
		if err := json.Unmarshal(b, &page); err != nil {
			return out, err
		}
		for _, m := range page.Messages {
			msg := HistoryMessage{
				To:        m.To,
				From:      m.From,
				Body:      m.Body,
				Status:    m.Status,
				Direction: m.Direction,
			}
			if m.ErrorCode != nil {
				msg.ErrorCode = *m.ErrorCode
			}
			if t, err := time.Parse(time.RFC1123Z, m.DateSent); err == nil {
				msg.SentAt = t
			}
			if !msg.SentAt.IsZero() && msg.SentAt.Before(since) {
				return out, nil
			}
			out = append(out, msg)
		}
		path = page.NextPageURI
	}
	return out, nil
}
