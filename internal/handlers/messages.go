package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ukydev/school-bus-tracker/internal/messaging"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// MessageHandler exposes the messaging gate over REST.
type MessageHandler struct {
	messages *messaging.Service
}

func NewMessageHandler(svc *messaging.Service) *MessageHandler {
	return &MessageHandler{messages: svc}
}

// Send delivers a message if the gate allows the pair.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req models.SendMessageRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.messages.Send(r.Context(), p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	convs, err := h.messages.Conversations(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *MessageHandler) Recipients(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := h.messages.Recipients(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Thread returns the history between the caller and {userId}.
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.messages.Thread(r.Context(), p, chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
