package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/flux/internal/model"
	"github.com/seantiz/flux/internal/unit"
)

// availableUnit is one unit found in the unit store.
type availableUnit struct {
	Name     string `json:"name"`
	Versions []int  `json:"versions"`
	Latest   int    `json:"latest"`
}

// unitSummary describes a live unit in list responses.
type unitSummary struct {
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Path        string    `json:"path"`
	LoadedAt    time.Time `json:"loaded_at"`
	TaskIDs     []string  `json:"task_ids"`
	WorkflowIDs []string  `json:"workflow_ids"`
}

// unitDetail adds the entry points and metadata of a live unit.
type unitDetail struct {
	unitSummary
	Tasks     []*unit.EntryPoint `json:"tasks"`
	Workflows []*unit.EntryPoint `json:"workflows"`
	Config    unit.Metadata      `json:"config"`
}

type listUnitRecordsResponse struct {
	Records []*model.UnitRecord `json:"records"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

func summarize(u *unit.DeploymentUnit) unitSummary {
	return unitSummary{
		Name:        u.Name,
		Version:     u.Version,
		Path:        u.Path,
		LoadedAt:    u.LoadedAt,
		TaskIDs:     u.TaskIDs(),
		WorkflowIDs: u.WorkflowIDs(),
	}
}

func detail(u *unit.DeploymentUnit) unitDetail {
	d := unitDetail{unitSummary: summarize(u), Config: u.Config}
	for _, id := range d.TaskIDs {
		d.Tasks = append(d.Tasks, u.TaskMethods[id])
	}
	for _, id := range d.WorkflowIDs {
		d.Workflows = append(d.Workflows, u.WorkflowMethods[id])
	}
	if d.Tasks == nil {
		d.Tasks = []*unit.EntryPoint{}
	}
	if d.Workflows == nil {
		d.Workflows = []*unit.EntryPoint{}
	}
	if d.Config == nil {
		d.Config = unit.Metadata{}
	}
	return d
}

func (s *Server) handleListAvailable(w http.ResponseWriter, _ *http.Request) {
	sc := s.units.Scanner()
	names, err := sc.List()
	if err != nil {
		s.writeDomainError(w, "list available units", err)
		return
	}

	out := make([]availableUnit, 0, len(names))
	for _, name := range names {
		versions, err := sc.Versions(name)
		if err != nil {
			s.logger.Warn("skip unreadable unit", "unit", name, "error", err)
			continue
		}
		latest, _ := sc.Latest(name)
		out = append(out, availableUnit{Name: name, Versions: versions, Latest: latest})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListUnits(w http.ResponseWriter, _ *http.Request) {
	units := s.units.GetAllDeploymentUnits()
	out := make([]unitSummary, len(units))
	for i, u := range units {
		out[i] = summarize(u)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// unitParams reads the name and version path parameters.
func (s *Server) unitParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	name := chi.URLParam(r, "name")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 0 {
		s.writeError(w, http.StatusBadRequest, "version must be a non-negative integer")
		return "", 0, false
	}
	return name, version, true
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	name, version, ok := s.unitParams(w, r)
	if !ok {
		return
	}
	u, err := s.units.Get(name, version)
	if err != nil {
		s.writeDomainError(w, "get unit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail(u))
}

func (s *Server) handleLoadUnit(w http.ResponseWriter, r *http.Request) {
	name, version, ok := s.unitParams(w, r)
	if !ok {
		return
	}
	replace := false
	if v := r.URL.Query().Get("replace"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "replace must be a boolean")
			return
		}
		replace = b
	}

	u, err := s.deployer.Load(r.Context(), name, version, replace)
	if err != nil {
		s.writeDomainError(w, "load unit", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, detail(u))
}

func (s *Server) handleUnloadUnit(w http.ResponseWriter, r *http.Request) {
	name, version, ok := s.unitParams(w, r)
	if !ok {
		return
	}
	if err := s.deployer.Unload(r.Context(), name, version); err != nil {
		s.writeDomainError(w, "unload unit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnitHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	records, total, err := s.store.ListUnitRecords(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list unit records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list unit history")
		return
	}
	if records == nil {
		records = []*model.UnitRecord{}
	}

	s.writeJSON(w, http.StatusOK, listUnitRecordsResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}
