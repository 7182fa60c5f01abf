package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListParticipants(r.Context(), mux.Vars(r)["code"], identity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": items})
}

func (s *HTTPServer) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var body AddParticipantInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	participant, err := s.service.AddParticipant(r.Context(), mux.Vars(r)["code"], identity(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *HTTPServer) handleUpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var body UpdateParticipantInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	participant, err := s.service.UpdateParticipant(r.Context(), vars["code"], identity(r), vars["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (s *HTTPServer) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.RemoveParticipant(r.Context(), vars["code"], identity(r), vars["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListNotes(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListNotes(r.Context(), mux.Vars(r)["code"], identity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": noteViews(items)})
}

func (s *HTTPServer) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var body CreateNoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	note, err := s.service.CreateNote(r.Context(), mux.Vars(r)["code"], identity(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, noteView(note))
}

func (s *HTTPServer) handleListPending(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	list := s.service.ListPending
	if r.URL.Query().Get("all") == "true" {
		list = s.service.ListPendingAll
	}
	items, err := list(r.Context(), code, identity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": noteViews(items)})
}

func (s *HTTPServer) handleGetNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	note, err := s.service.GetNote(r.Context(), vars["code"], identity(r), vars["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.DeleteNote(r.Context(), vars["code"], identity(r), vars["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleLockNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	note, err := s.service.LockNote(r.Context(), vars["code"], identity(r), vars["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleUnlockNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	note, err := s.service.UnlockNote(r.Context(), vars["code"], identity(r), vars["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleApproveNote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	note, err := s.service.ApproveNote(r.Context(), vars["code"], identity(r), vars["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}

func (s *HTTPServer) handleRejectNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	vars := mux.Vars(r)
	note, err := s.service.RejectNote(r.Context(), vars["code"], identity(r), vars["id"], body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, noteView(note))
}
