package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSend(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)

		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"To":             r.PostForm.Get("To"),
			"From":           r.PostForm.Get("From"),
			"Body":           r.PostForm.Get("Body"),
			"StatusCallback": r.PostForm.Get("StatusCallback"),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sid": "SM42", "status": "queued", "num_segments": "3",
		})
	}))
	defer srv.Close()

	c := &Client{AccountID: "AC123", AuthToken: "secret", HTTP: srv.Client(), BaseURL: srv.URL}
	out, err := c.Send(context.Background(), SendInput{
		To:                "+15551234567",
		From:              "+15550001111",
		Body:              "hello",
		StatusCallbackURL: "https://hooks.example.com/v1/webhooks/gateway/status",
	})
	require.NoError(t, err)

	assert.Equal(t, "SM42", out.ExternalID)
	assert.Equal(t, "queued", out.Status)
	assert.Equal(t, 3, out.Segments)
	assert.Equal(t, "+15551234567", gotForm["To"])
	assert.Equal(t, "+15550001111", gotForm["From"])
	assert.Equal(t, "hello", gotForm["Body"])
	assert.NotEmpty(t, gotForm["StatusCallback"])
}

func TestClientSendErrorSurfacesGatewayMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "Invalid 'To' number", "code": 21211})
	}))
	defer srv.Close()

	c := &Client{AccountID: "AC123", AuthToken: "secret", HTTP: srv.Client(), BaseURL: srv.URL}
	_, err := c.Send(context.Background(), SendInput{To: "bad", From: "+15550001111", Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid 'To' number")
}

func TestClientSendDefaultsSegmentsToOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"sid": "SM1", "status": "queued"})
	}))
	defer srv.Close()

	c := &Client{AccountID: "AC123", AuthToken: "secret", HTTP: srv.Client(), BaseURL: srv.URL}
	out, err := c.Send(context.Background(), SendInput{To: "+15551234567", From: "+15550001111", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Segments)
}

func TestClientListMessagesFollowsPaging(t *testing.T) {
	code := 21211
	now := time.Now().UTC()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("Page") == "1" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{
					{"from": "+15550000002", "body": "STOP", "direction": "inbound",
						"status": "received", "date_sent": now.Add(-2 * time.Hour).Format(time.RFC1123Z)},
				},
				"next_page_uri": "",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"to": "+15550000001", "direction": "outbound-api", "status": "failed",
					"error_code": code, "date_sent": now.Add(-time.Hour).Format(time.RFC1123Z)},
			},
			"next_page_uri": "/2010-04-01/Accounts/AC123/Messages.json?Page=1",
		})
	}))
	defer srv.Close()

	c := &Client{AccountID: "AC123", AuthToken: "secret", HTTP: srv.Client(), BaseURL: srv.URL}
	msgs, err := c.ListMessages(context.Background(), now.AddDate(0, 0, -30))
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, 21211, msgs[0].ErrorCode)
	assert.False(t, msgs[0].Inbound())
	assert.True(t, msgs[1].Inbound())
	assert.Equal(t, "STOP", msgs[1].Body)
}

func TestClientListMessagesStopsBeforeSince(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"to": "+15550000001", "direction": "outbound-api", "status": "delivered",
					"date_sent": now.Add(-time.Hour).Format(time.RFC1123Z)},
				{"to": "+15550000002", "direction": "outbound-api", "status": "delivered",
					"date_sent": now.AddDate(0, 0, -60).Format(time.RFC1123Z)},
			},
			"next_page_uri": "/should/never/be/fetched",
		})
	}))
	defer srv.Close()

	c := &Client{AccountID: "AC123", AuthToken: "secret", HTTP: srv.Client(), BaseURL: srv.URL}
	msgs, err := c.ListMessages(context.Background(), now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, msgs, 1, "entries older than the window end the scan")
	assert.Equal(t, "+15550000001", msgs[0].To)
}
