package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/veil/chat-app/internal/files"
	"github.com/veil/chat-app/internal/history"
	"github.com/veil/chat-app/internal/ratelimit"
	"github.com/veil/chat-app/internal/report"
	"github.com/veil/chat-app/internal/ws"
)

// apiServer holds the HTTP endpoints mounted next to /ws: abuse reports,
// transcript access for participants, the moderator surface, and image
// uploads. History-backed endpoints respond 503 when Postgres is not
// configured.
type apiServer struct {
	history *history.Store
	reports *report.Store
	files   *files.Store
	limiter *ratelimit.Limiter
}

func (a *apiServer) mount(server *ws.Server) {
	server.Handle("POST /api/report", http.HandlerFunc(a.handleReport))
	server.Handle("GET /api/chats/{id}/messages", http.HandlerFunc(a.handleMessages))
	server.Handle("GET /api/admin/reports", a.requireAdmin(a.handleAdminReports))
	server.Handle("GET /api/admin/conversations/{id}/messages", a.requireAdmin(a.handleAdminMessages))
	server.Handle("POST /api/upload", http.HandlerFunc(a.handleUpload))
	server.Handle("GET /api/files/{id}", http.HandlerFunc(a.handleFile))
}

// anonID extracts the caller's anonymous identity cookie, or "" if absent.
func anonID(r *http.Request) string {
	ck, err := r.Cookie(ws.AnonCookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

// requireAdmin guards moderator endpoints with the ADMIN_TOKEN shared secret.
// With no token configured the endpoints are disabled outright.
func (a *apiServer) requireAdmin(next http.HandlerFunc) http.Handler {
	token := os.Getenv("ADMIN_TOKEN")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.Header.Get("X-Admin-Token") != token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleReport files an abuse report against a conversation the caller took
// part in.
func (a *apiServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if a.reports == nil || a.history == nil {
		http.Error(w, "reporting unavailable", http.StatusServiceUnavailable)
		return
	}
	anon := anonID(r)
	if anon == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var body struct {
		ConversationID string `json:"conversation_id"`
		Reason         string `json:"reason"`
		Details        string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ConversationID == "" || !report.ValidReason(body.Reason) {
		http.Error(w, "invalid report", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conv, err := a.history.Conversation(ctx, body.ConversationID)
	if err != nil {
		log.Printf("api: report lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv == nil || (conv.AnonA != anon && conv.AnonB != anon) {
		http.Error(w, "unknown conversation", http.StatusNotFound)
		return
	}

	err = a.reports.Create(ctx, &report.Report{
		ConversationID: body.ConversationID,
		ReporterAnonID: anon,
		Reason:         body.Reason,
		Details:        body.Details,
	})
	if err != nil {
		log.Printf("api: report create failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleMessages returns a conversation transcript to one of its participants.
func (a *apiServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	anon := anonID(r)
	if anon == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conv, err := a.history.Conversation(ctx, id)
	if err != nil {
		log.Printf("api: conversation lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv == nil || (conv.AnonA != anon && conv.AnonB != anon) {
		http.Error(w, "unknown conversation", http.StatusNotFound)
		return
	}

	a.writeTranscript(ctx, w, conv, anon)
}

// handleAdminReports lists recent abuse reports for moderators.
func (a *apiServer) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	if a.reports == nil {
		http.Error(w, "reporting unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	reports, err := a.reports.List(ctx, 100)
	if err != nil {
		log.Printf("api: report list failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type item struct {
		ID             int64  `json:"id"`
		ConversationID string `json:"conversation_id"`
		Reason         string `json:"reason"`
		Details        string `json:"details,omitempty"`
		CreatedAt      int64  `json:"created_at"`
	}
	out := make([]item, 0, len(reports))
	for _, rep := range reports {
		out = append(out, item{
			ID:             rep.ID,
			ConversationID: rep.ConversationID,
			Reason:         rep.Reason,
			Details:        rep.Details,
			CreatedAt:      rep.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": out})
}

// handleAdminMessages returns a full transcript for moderator review.
func (a *apiServer) handleAdminMessages(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conv, err := a.history.Conversation(ctx, id)
	if err != nil {
		log.Printf("api: conversation lookup failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "unknown conversation", http.StatusNotFound)
		return
	}

	a.writeTranscript(ctx, w, conv, "")
}

// writeTranscript renders a conversation's messages. When viewerAnon is set,
// senders are anonymised relative to the viewer ("you"/"partner"); moderators
// see the raw anonymous identities.
func (a *apiServer) writeTranscript(ctx context.Context, w http.ResponseWriter, conv *history.Conversation, viewerAnon string) {
	msgs, err := a.history.Messages(ctx, conv.ID, 500)
	if err != nil {
		log.Printf("api: messages fetch failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type item struct {
		From    string `json:"from"`
		Text    string `json:"text,omitempty"`
		ImageID string `json:"image_id,omitempty"`
		Ts      int64  `json:"ts"`
	}
	out := make([]item, 0, len(msgs))
	for _, m := range msgs {
		from := m.SenderAnonID
		if viewerAnon != "" {
			if m.SenderAnonID == viewerAnon {
				from = "you"
			} else {
				from = "partner"
			}
		}
		out = append(out, item{
			From:    from,
			Text:    m.Body,
			ImageID: m.ImageID,
			Ts:      m.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv.ID,
		"messages":        out,
	})
}

// handleUpload stores an image and returns its id for use in a chat message.
func (a *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	anon := anonID(r)
	if anon == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	allowed, _ := a.limiter.Allow(ctx, anon, ratelimit.RuleUpload)
	if !allowed {
		http.Error(w, "too many uploads", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, files.MaxUploadBytes+1)
	id, err := a.files.Save(r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"image_id": id})
}

// handleFile streams a stored image back to a client.
func (a *apiServer) handleFile(w http.ResponseWriter, r *http.Request) {
	rc, contentType, err := a.files.Open(r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("api: file stream failed: %v", err)
	}
}
