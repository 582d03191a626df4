// Package ingest is the network front end of the pipeline: a WebSocket
// stream for live turn submission plus small JSON endpoints for batch
// submission and session control. Submission only enqueues — processing
// happens on the worker pool, so acks return promptly.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/clarivox/internal/observe"
	"github.com/MrWong99/clarivox/internal/orchestrator"
	"github.com/MrWong99/clarivox/internal/queue"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// TurnMessage is one submitted raw turn.
type TurnMessage struct {
	SessionID string `json:"session_id,omitempty"` // optional on the stream; taken from the URL
	Speaker   string `json:"speaker"`
	Seq       int    `json:"seq"`
	Text      string `json:"text"`
}

// Ack is the reply to one submitted turn.
type Ack struct {
	JobID string `json:"job_id,omitempty"`
	Seq   int    `json:"seq"`
	Error string `json:"error,omitempty"`
}

// Server exposes the ingest endpoints.
type Server struct {
	svc  *queue.Service
	orch *orchestrator.Orchestrator
}

// NewServer wires the ingest endpoints over the queue service and the
// orchestrator.
func NewServer(svc *queue.Service, orch *orchestrator.Orchestrator) *Server {
	return &Server{svc: svc, orch: orch}
}

// Register attaches the ingest routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", s.handleTurns)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleRelease)
}

// handleStream upgrades to a WebSocket and enqueues every received turn,
// replying with one ack per message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	log := observe.Logger(r.Context()).With("session_id", sessionID)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Normal closure or client gone.
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "text messages only")
			return
		}

		var msg TurnMessage
		ack := Ack{}
		if err := json.Unmarshal(data, &msg); err != nil {
			ack.Error = fmt.Sprintf("invalid message: %v", err)
		} else {
			ack.Seq = msg.Seq
			jobID, err := s.enqueue(r, sessionID, msg)
			if err != nil {
				ack.Error = err.Error()
			} else {
				ack.JobID = jobID
			}
		}

		reply, _ := json.Marshal(ack)
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			log.Warn("websocket ack write failed", "error", err)
			return
		}
	}
}

// handleTurns accepts a JSON array of turns and enqueues them in order.
func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var msgs []TurnMessage
	if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	acks := make([]Ack, 0, len(msgs))
	for _, msg := range msgs {
		ack := Ack{Seq: msg.Seq}
		jobID, err := s.enqueue(r, sessionID, msg)
		if err != nil {
			ack.Error = err.Error()
		} else {
			ack.JobID = jobID
		}
		acks = append(acks, ack)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(acks); err != nil {
		observe.Logger(r.Context()).Warn("ack encode failed", "error", err)
	}
}

// handleStop marks the session stopped; in-flight batches abort at the next
// between-turn check.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	s.orch.StopSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleRelease stops the session and retires its in-memory state. Clients
// call it once all turns for the session have been submitted and drained.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	s.orch.ReleaseSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enqueue(r *http.Request, sessionID string, msg TurnMessage) (string, error) {
	if msg.SessionID != "" && msg.SessionID != sessionID {
		return "", fmt.Errorf("session id mismatch: %q vs %q", msg.SessionID, sessionID)
	}
	if msg.Speaker == "" {
		return "", fmt.Errorf("speaker is required")
	}
	return s.svc.Enqueue(r.Context(), sessionID, transcript.RawTurn{
		Speaker: transcript.Speaker(msg.Speaker),
		Seq:     msg.Seq,
		Text:    msg.Text,
	})
}
