package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roadscan/internal/adapters/filestore"
	"roadscan/internal/config"
	"roadscan/internal/domain"
	"roadscan/internal/services/history"
)

const maxNotesBody = 64 << 10

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	info := s.detector.Info()
	resp := healthResponse{
		Status:      "running",
		App:         appName,
		Version:     appVersion,
		ModelLoaded: info.Loaded,
		Detector:    info.Backend,
	}
	// custom_model reports whether the in-process backend runs a trained
	// weights file; the remote backend owns its model.
	if info.Backend == config.BackendONNX && s.opts.ModelPath != "" {
		if _, err := os.Stat(s.opts.ModelPath); err == nil {
			resp.CustomModel = true
		}
	}
	for _, e := range s.catalog.Entries() {
		resp.DamageTypes = append(resp.DamageTypes, damageTypeDTO{Code: e.Code, Name: e.Name, Color: e.Color, Severity: e.Severity})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, r, fmt.Errorf("%w: expected multipart form: %v", domain.ErrInvalidInput, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: no image provided", domain.ErrInvalidInput))
		return
	}
	data, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: read image: %v", domain.ErrInvalidInput, err))
		return
	}

	geotag, err := parseGeotag(r.FormValue("latitude"), r.FormValue("longitude"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	save := true
	if v := r.FormValue("save"); v != "" {
		if save, err = strconv.ParseBool(v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: save must be a boolean, got %q", domain.ErrInvalidInput, v))
			return
		}
	}

	res, err := s.detections.Detect(r.Context(), domain.DetectRequest{Image: data, Geotag: geotag, Save: save})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := detectResponse{
		Success:       true,
		Detections:    make([]detectionDTO, 0, len(res.Records)),
		Count:         len(res.Records),
		ImageFilename: res.ImageRef,
		ImageSize:     imageSizeDTO{Width: res.Width, Height: res.Height},
		Saved:         res.Saved,
	}
	for _, rec := range res.Records {
		resp.Detections = append(resp.Detections, toDetection(s.catalog, rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

// parseGeotag accepts both coordinates or neither.
func parseGeotag(lat, lon string) (*domain.Geotag, error) {
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, fmt.Errorf("%w: latitude and longitude must be given together", domain.ErrInvalidInput)
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude %q is not a number", domain.ErrInvalidInput, lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude %q is not a number", domain.ErrInvalidInput, lon)
	}
	return domain.NewGeotag(la, lo)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidInput, key, v)
	}
	return n, nil
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", history.DefaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.history.List(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, historyResponse{
		Success: true,
		Records: toRecords(s.catalog, page.Records),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

func (s *Server) mapMarkers(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.MapMarkers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mapResponse{Success: true, Markers: toRecords(s.catalog, recs), Total: len(recs)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := statsResponse{
		Success:           true,
		TotalDetections:   st.Total,
		ByType:            make(map[string]int64, len(st.ByType)),
		ByCode:            make(map[string]int64, len(st.ByType)),
		AverageConfidence: st.AverageConfidence,
	}
	for _, b := range st.ByType {
		resp.ByType[b.Name] += b.Count
		resp.ByCode[b.Code] += b.Count
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) getDetection(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recordResponse{Success: true, Record: toRecord(s.catalog, rec)})
}

func (s *Server) updateNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body map[string]*string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotesBody)).Decode(&body); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidInput, err))
		return
	}
	notes, ok := body["notes"]
	if !ok || len(body) != 1 {
		s.fail(w, r, fmt.Errorf("%w: only notes can be updated", domain.ErrInvalidInput))
		return
	}
	if err := s.history.UpdateNotes(r.Context(), id, notes); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recordResponse{Success: true, Record: toRecord(s.catalog, rec)})
}

func (s *Server) deleteDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Deleted"})
}

func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if !filestore.ValidRef(ref) {
		s.fail(w, r, fmt.Errorf("%w: image %q", domain.ErrNotFound, ref))
		return
	}
	f, info, err := s.images.Open(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, ref, info.ModTime, f)
}
