package api

import (
	"net/http"
	"strconv"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
)

func pathMessageID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrInvalidMessageID
	}
	return id, nil
}

func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)

	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	senderID := req.SenderID
	if senderID == "" {
		senderID = caller
	}
	if senderID != caller {
		h.writeError(w, r, apperr.ErrSenderMismatch)
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), senderID, req.ReceiverID, req.EncryptedContent)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.dispatcher.NotifyNewMessage(r.Context(), msg)
	writeJSON(w, http.StatusCreated, msg)
}

// HandleNoConversation answers a list request with no contact selected.
func (h *Handlers) HandleNoConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []models.Message{})
}

func (h *Handlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	messages, err := h.reconciler.GetConversation(r.Context(), callerID(r), r.PathValue("contactId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handlers) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	id, err := pathMessageID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !msg.Involves(caller) {
		h.writeError(w, r, apperr.ErrNotParticipant)
		return
	}

	deleted, err := h.store.DeleteMessage(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		h.writeError(w, r, apperr.ErrMessageNotFound)
		return
	}

	h.dispatcher.NotifyDeleted(id, msg.Counterparty(caller))
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Message deleted"})
}

func (h *Handlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	senderID, receiverID := r.PathValue("senderId"), r.PathValue("receiverId")
	if caller != senderID && caller != receiverID {
		h.writeError(w, r, apperr.ErrNotParticipant)
		return
	}

	if _, err := h.store.DeleteConversation(r.Context(), senderID, receiverID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Conversation deleted"})
}

// HandleMarkSeen marks one message as read by its receiver.
func (h *Handlers) HandleMarkSeen(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	id, err := pathMessageID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msg.ReceiverID != caller {
		h.writeError(w, r, apperr.ErrNotParticipant)
		return
	}

	ok, err := h.store.MarkSeen(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, apperr.ErrMessageNotFound)
		return
	}

	h.dispatcher.NotifySeen(id, msg.SenderID)
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Message marked as seen"})
}
