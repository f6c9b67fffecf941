package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"rip-sage/internal/grave"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/record"
	"rip-sage/internal/web/middleware"
)

// GraveView is one record entry as the API shows it.
type GraveView struct {
	Original string    `json:"original"`
	Grave    string    `json:"grave"`
	BuriedAt time.Time `json:"buried_at"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"` // -1 when the grave could not be sized
}

// GravesResponse is the listing, newest first.
type GravesResponse struct {
	Graves []GraveView `json:"graves"`
	Count  int         `json:"count"`
}

// ExhumeRequest selects what to restore. With neither field set the most
// recent burial is restored.
type ExhumeRequest struct {
	Target string `json:"target,omitempty"` // an original path or a grave path
	Under  string `json:"under,omitempty"`  // restore everything buried from below this directory
}

// RestoredView is one completed exhume.
type RestoredView struct {
	Original     string `json:"original"`
	Grave        string `json:"grave"`
	Size         int64  `json:"size"`
	CrossDevice  bool   `json:"cross_device"`
	CopyRetained bool   `json:"copy_retained"`
}

// ExhumeResponse lists what was restored. Errors is set when some entries
// under a directory could not be restored.
type ExhumeResponse struct {
	Restored []RestoredView `json:"restored"`
	Errors   []string       `json:"errors,omitempty"`
}

// PruneResponse lists the entries dropped because their grave was gone.
type PruneResponse struct {
	Pruned  int         `json:"pruned"`
	Entries []GraveView `json:"entries"`
}

func entryView(e record.Entry, size int64) GraveView {
	return GraveView{Original: e.Original, Grave: e.Grave, BuriedAt: e.Time, IsDir: e.IsDir, Size: size}
}

func restoredView(ri graveyard.RestoredInfo) RestoredView {
	return RestoredView{
		Original:     ri.Original,
		Grave:        ri.Grave,
		Size:         ri.Size,
		CrossDevice:  ri.CrossDevice,
		CopyRetained: ri.CopyRetained,
	}
}

var errRelativePath = errors.New("path must be absolute")

// absolutePath canonicalizes a path supplied by a client. Relative paths
// would resolve against the server's working directory and are refused.
func absolutePath(field, p string) (grave.Path, error) {
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%s: %w", field, errRelativePath)
	}
	cp, err := grave.Canonicalize(p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return cp, nil
}

// ListGravesHandler lists the graveyard, optionally only what was buried
// from below ?under=DIR.
func (s *Server) ListGravesHandler(w http.ResponseWriter, r *http.Request) {
	pred := graveyard.All()
	if under := r.URL.Query().Get("under"); under != "" {
		dir, err := absolutePath("under", under)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pred = graveyard.Under(dir)
	}

	graves, err := s.g.List(r.Context(), pred)
	if err != nil {
		s.respondGraveyardError(w, r, err)
		return
	}

	resp := GravesResponse{Graves: make([]GraveView, 0, len(graves)), Count: len(graves)}
	for _, g := range graves {
		resp.Graves = append(resp.Graves, entryView(g.Entry, g.Size))
	}
	respondJSON(w, resp, http.StatusOK)
}

// ExhumeHandler restores one entry, or every entry under a directory.
func (s *Server) ExhumeHandler(w http.ResponseWriter, r *http.Request) {
	var req ExhumeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Target != "" && req.Under != "" {
		respondError(w, "target and under are mutually exclusive", http.StatusBadRequest)
		return
	}

	resp := ExhumeResponse{Restored: []RestoredView{}}
	switch {
	case req.Under != "":
		dir, err := absolutePath("under", req.Under)
		if err != nil {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		restored, err := s.g.ExhumeAll(r.Context(), graveyard.Under(dir))
		if err != nil && len(restored) == 0 {
			s.respondGraveyardError(w, r, err)
			return
		}
		for _, ri := range restored {
			resp.Restored = append(resp.Restored, restoredView(ri))
		}
		resp.Errors = errorList(err)

	default:
		pred := graveyard.All()
		if req.Target != "" {
			target, err := absolutePath("target", req.Target)
			if err != nil {
				respondError(w, err.Error(), http.StatusBadRequest)
				return
			}
			pred = graveyard.Target(target)
		}
		ri, err := s.g.Exhume(r.Context(), pred)
		if err != nil {
			s.respondGraveyardError(w, r, err)
			return
		}
		resp.Restored = append(resp.Restored, restoredView(ri))
	}

	respondJSON(w, resp, http.StatusOK)
}

// errorList flattens a joined error into its messages.
func errorList(err error) []string {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

// PruneHandler drops entries whose grave no longer exists.
func (s *Server) PruneHandler(w http.ResponseWriter, r *http.Request) {
	pruned, err := s.g.Prune(r.Context(), graveyard.All())
	if err != nil {
		s.respondGraveyardError(w, r, err)
		return
	}
	resp := PruneResponse{Pruned: len(pruned), Entries: make([]GraveView, 0, len(pruned))}
	for _, e := range pruned {
		resp.Entries = append(resp.Entries, entryView(e, -1))
	}
	respondJSON(w, resp, http.StatusOK)
}

// DecomposeHandler permanently deletes everything in the graveyard.
func (s *Server) DecomposeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.g.Decompose(r.Context()); err != nil {
		s.respondGraveyardError(w, r, err)
		return
	}
	user := "-"
	if claims, ok := middleware.GetClaims(r); ok {
		user = claims.Username
	}
	s.log.Warn("graveyard decomposed", "user", user)
	respondJSON(w, map[string]string{"status": "decomposed"}, http.StatusOK)
}
