package api

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/attestation"
)

// mountMeta wires endpoints that describe the coordinator itself rather
// than any particular build, all explicitly public per spec.md §4.8.
func (s *Server) mountMeta(r *mux.Router) {
	r.HandleFunc("/meta/public-keys", s.handlePublicKeys).Methods(http.MethodGet)
}

func (s *Server) handlePublicKeys(w http.ResponseWriter, r *http.Request) {
	if s.key == nil {
		writeError(w, apperrors.NotFound("public key", "none configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key_id": hex.EncodeToString(s.key.Public),
		"pem":    attestation.PubkeyToPEM(s.key.Public),
	})
}
