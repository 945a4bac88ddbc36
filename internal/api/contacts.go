package api

import (
	"net/http"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
)

func (h *Handlers) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.store.ListContacts(r.Context(), callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handlers) HandleAddContact(w http.ResponseWriter, r *http.Request) {
	var req models.AddContactRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ContactID == "" {
		h.writeError(w, r, apperr.InvalidArg("invalid contact id"))
		return
	}

	contact, err := h.store.AddContact(r.Context(), callerID(r), req.ContactID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

// HandleDeleteContact also deletes the conversation with that contact.
func (h *Handlers) HandleDeleteContact(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteContact(r.Context(), callerID(r), r.PathValue("contactId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		h.writeError(w, r, apperr.ErrContactNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Message: "Contact deleted"})
}
