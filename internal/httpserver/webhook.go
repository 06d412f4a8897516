package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"smsdispatch/internal/observability"
	sqsqueue "smsdispatch/internal/queue/sqs"
	"smsdispatch/internal/util"
)

type DeliveryQueue interface {
	Enqueue(ctx context.Context, ev sqsqueue.DeliveryEvent) error
}

// Webhook receives gateway status callbacks, verifies the signature against
// the exact public URL registered with the gateway, and forwards the event
// onto the queue. It holds no database connection.
type Webhook struct {
	Queue           DeliveryQueue
	VerifySignature func(authToken, fullURL, provided string, form url.Values) bool
	AuthToken       string
	PublicURL       string
}

func (w *Webhook) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/webhooks/gateway/status", w.handleStatus).Methods(http.MethodPost)
}

func (w *Webhook) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if w.VerifySignature == nil || !w.VerifySignature(w.AuthToken, w.PublicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	externalID := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	errCode := r.PostForm.Get("ErrorCode")
	segments, _ := strconv.Atoi(r.PostForm.Get("NumSegments"))

	observability.WebhookEvents.WithLabelValues("received").Inc()

	payload := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		payload[k] = r.PostForm.Get(k)
	}

	if err := w.Queue.Enqueue(r.Context(), sqsqueue.DeliveryEvent{
		ExternalID: externalID,
		Status:     status,
		ErrorCode:  errCode,
		Segments:   segments,
		Payload:    payload,
		ReceivedAt: util.NowUTC(),
	}); err != nil {
		slog.Error("webhook enqueue delivery event failed", "err", err, "external_id", externalID, "status", status)
		// 5xx so the gateway retries the callback
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusOK)
}
