package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conclave/internal/domain"
	"conclave/internal/relay"
	"conclave/internal/storage/sqlite"
	"conclave/internal/telemetry"
)

func (s *Server) handleUploadPackage(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	var req relay.UploadPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validator.Validate(client, req.KeyPackage); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.SavePackage(r.Context(), client, req.KeyPackage)
	if err != nil {
		s.log.Error("save key package", zap.String("client", client), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	s.log.Info("key package published", zap.String("client", client), zap.String("package_id", id))
	s.writeJSON(w, http.StatusOK, relay.UploadPackageResponse{PackageID: id})
}

func (s *Server) handleFetchPackage(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	pkg, err := s.store.LatestPackage(r.Context(), client)
	if errors.Is(err, sqlite.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no key package for "+client)
		return
	}
	if err != nil {
		s.log.Error("fetch key package", zap.String("client", client), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	s.writeJSON(w, http.StatusOK, relay.FetchPackageResponse{KeyPackage: pkg})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req relay.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Sender == "" || len(req.Recipients) == 0 || len(req.Content) == 0 {
		s.writeError(w, http.StatusBadRequest, "sender, recipients and content are required")
		return
	}

	// One id and one timestamp cover the whole fan-out.
	messageID := uuid.NewString()
	ts := time.Now().UnixMilli()
	for _, rcpt := range req.Recipients {
		m := Message{ID: messageID, Sender: req.Sender, Content: req.Content, Timestamp: ts}
		if s.registry.Push(rcpt, m) {
			telemetry.DeliveriesTotal.WithLabelValues("live").Inc()
			continue
		}
		if err := s.store.Enqueue(r.Context(), messageID, req.Sender, rcpt, req.Content, ts); err != nil {
			s.log.Error("enqueue message",
				zap.String("message_id", messageID),
				zap.String("recipient", rcpt),
				zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		telemetry.DeliveriesTotal.WithLabelValues("queued").Inc()
	}
	s.writeJSON(w, http.StatusOK, relay.SendMessageResponse{MessageID: messageID, Timestamp: ts})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Take over the queue before going live. The single drain keeps
	// the backlog in order and hands each message to exactly one
	// stream; anything enqueued between the drain and Register waits
	// for the next connect.
	backlog, err := s.store.DrainFor(r.Context(), client)
	if err != nil {
		s.log.Error("drain queue", zap.String("client", client), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	sess := s.registry.Register(client)
	telemetry.ActiveSessions.Inc()
	defer telemetry.ActiveSessions.Dec()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	write := func(content []byte, ts int64) bool {
		if err := enc.Encode(domain.Delivery{Content: content, Timestamp: ts}); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	s.log.Info("stream open", zap.String("client", client), zap.Int("backlog", len(backlog)))

	// Undeliverable messages collect here and go back to the queue.
	var unsent []Message

	alive := true
	for i, q := range backlog {
		if !write(q.Content, q.CreatedAt) {
			for _, rest := range backlog[i:] {
				unsent = append(unsent, Message{ID: rest.MessageID, Sender: rest.Sender, Content: rest.Content, Timestamp: rest.CreatedAt})
			}
			alive = false
			break
		}
		telemetry.DrainedTotal.Inc()
	}

	if alive {
	live:
		for {
			select {
			case <-r.Context().Done():
				break live
			case <-sess.done:
				break live
			case m := <-sess.ch:
				if !write(m.Content, m.Timestamp) {
					unsent = append(unsent, m)
					break live
				}
			}
		}
	}

	// Make the session unreachable, then sweep its buffer. After
	// Deregister no push can land in sess.ch, so the sweep is
	// complete.
	s.registry.Deregister(client, sess)
drain:
	for {
		select {
		case m := <-sess.ch:
			unsent = append(unsent, m)
		default:
			break drain
		}
	}

	// The request context is typically dead here; the requeue must
	// still happen.
	for _, m := range unsent {
		if err := s.store.Enqueue(context.Background(), m.ID, m.Sender, client, m.Content, m.Timestamp); err != nil {
			s.log.Error("requeue undelivered",
				zap.String("message_id", m.ID),
				zap.String("client", client),
				zap.Error(err))
		}
	}
	s.log.Info("stream closed", zap.String("client", client), zap.Int("requeued", len(unsent)))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, reason string) {
	s.writeJSON(w, code, relay.ErrorResponse{Error: reason})
}
