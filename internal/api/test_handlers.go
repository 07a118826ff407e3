package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/screening-engine/internal/bank"
	"github.com/terra-clan/screening-engine/internal/models"
)

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Tests.List()
	tests := make([]models.TestInfo, len(defs))
	for i, def := range defs {
		tests[i] = def.Info()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tests": tests,
		"total": len(tests),
	})
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Tests.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "test_not_found", "test not found")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleReloadTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !slices.Contains(s.deps.Tests.CatalogIDs(), id) {
		respondError(w, http.StatusNotFound, "test_not_found", "test is not in the catalog")
		return
	}

	def, err := s.deps.Tests.Reload(id)
	if err != nil {
		var malformed *bank.MalformedBankError
		if errors.As(err, &malformed) {
			respondError(w, http.StatusUnprocessableEntity, "malformed_bank", err.Error())
			return
		}
		slog.Error("failed to reload test", "test_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to reload test")
		return
	}

	slog.Info("test reloaded", "test_id", id, "client", ClientFromContext(r.Context()).Name)
	respondJSON(w, http.StatusOK, def.Info())
}
