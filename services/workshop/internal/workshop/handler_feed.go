package workshop

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

const keepaliveInterval = 30 * time.Second

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request, c call) {
	feed := c.session.Feed()
	if feed == nil {
		aqm.RespondSuccess(w, []jobcard.FeedEntry{})
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		if err := feed.Load(r.Context()); err != nil {
			h.respondEngineError(w, c.log, err)
			return
		}
	}
	aqm.RespondSuccess(w, feed.Entries())
}

func (h *Handler) PostComment(w http.ResponseWriter, r *http.Request, c call) {
	feed := c.session.Feed()
	if feed == nil {
		aqm.RespondError(w, http.StatusConflict, "Comments are available once the job card is created")
		return
	}

	var req PostCommentRequest
	if !h.decodePayload(w, r, c.log, &req) {
		return
	}

	comment, err := feed.Post(r.Context(), c.actor, req.Text, req.Attachments)
	if err != nil {
		h.respondEngineError(w, c.log, err)
		return
	}

	aqm.Respond(w, http.StatusCreated, comment, nil)
}

// StreamEvents streams notices, feed changes and job snapshots for the session.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request, c call) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriberID := uuid.New().String()
	c.log.Info("new SSE connection", "subscriber_id", subscriberID)

	messages := c.session.Subscribe(subscriberID)
	defer c.session.Unsubscribe(subscriberID)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush(w)

	if feed := c.session.Feed(); feed != nil {
		h.sendEvent(w, c.log, Message{Event: "feed", Data: feed.Entries()})
	}
	for _, n := range c.session.DrainNotices() {
		h.sendEvent(w, c.log, Message{Event: "notice", Data: n})
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			c.log.Info("SSE client disconnected", "subscriber_id", subscriberID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)

		case msg, ok := <-messages:
			if !ok {
				c.log.Info("session stream closed", "subscriber_id", subscriberID)
				return
			}
			h.sendEvent(w, c.log, msg)
		}
	}
}

func (h *Handler) sendEvent(w http.ResponseWriter, log aqm.Logger, msg Message) {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		log.Error("failed to encode stream event", "event", msg.Event, "error", err)
		return
	}
	sendSSEEvent(w, msg.Event, string(data))
}

// sendSSEEvent writes one event, prefixing every data line.
func sendSSEEvent(w http.ResponseWriter, eventType string, data string) {
	data = strings.TrimSpace(data)

	fmt.Fprintf(w, "event: %s\n", eventType)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")

	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
