package api

import "net/http"

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pools.List())
}
