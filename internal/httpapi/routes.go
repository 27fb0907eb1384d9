// Package httpapi wires the external interfaces in §6 onto a gorilla/mux
// Router: the two WebSocket document endpoints and the ticket SSE endpoint.
// Operational endpoints (/healthz, /metrics) are registered by
// infrastructure/service, shared across every component this corpus runs as
// its own process; this package owns only the document-engine-specific
// surface.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-labs/docweave/internal/eventbus"
	"github.com/r3e-labs/docweave/internal/session"
	"github.com/r3e-labs/docweave/internal/sse"
)

// TicketArticleDocID derives the collaborative document id backing a
// ticket's article field from the ticket id, so /ws/ticket-article/{id}
// shares the same Session Registry, Document Cache, and Revision Engine as
// /ws/docs/{docID} without a parallel code path.
func TicketArticleDocID(ticketID string) string {
	return "ticket-article:" + ticketID
}

// TicketTopic derives the Event Bus topic for a ticket.
func TicketTopic(ticketID string) string {
	return "ticket:" + ticketID
}

// Server holds the collaborators the document-engine routes need.
type Server struct {
	hub     *session.Hub
	sse     *sse.Handler
	viewers *eventbus.ViewerCounter
}

func New(hub *session.Hub, sseHandler *sse.Handler, viewers *eventbus.ViewerCounter) *Server {
	return &Server{hub: hub, sse: sseHandler, viewers: viewers}
}

// Register mounts the document-engine routes onto r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/ws/docs/{docID}", s.handleDocWS).Methods(http.MethodGet)
	r.HandleFunc("/ws/ticket-article/{ticketID}", s.handleTicketArticleWS).Methods(http.MethodGet)
	r.HandleFunc("/sse/tickets/{ticketID}", s.handleTicketSSE).Methods(http.MethodGet)
}

func (s *Server) handleDocWS(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	// Errors are already surfaced to the client as a Close frame by
	// Hub.ServeWS; nothing more to report over this request/response cycle.
	_ = s.hub.ServeWS(w, r, docID)
}

func (s *Server) handleTicketArticleWS(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["ticketID"]
	_ = s.hub.ServeWS(w, r, TicketArticleDocID(ticketID))
}

func (s *Server) handleTicketSSE(w http.ResponseWriter, r *http.Request) {
	ticketID := mux.Vars(r)["ticketID"]
	topic := TicketTopic(ticketID)

	if s.viewers != nil {
		s.viewers.Attach(topic)
		defer s.viewers.Detach(topic)
	}

	_ = s.sse.Serve(w, r, []string{topic})
}
