package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/pkg/httputil"
	"github.com/ignite/zns-dispatch/internal/recipients"
	"github.com/ignite/zns-dispatch/internal/runstore"
	"github.com/ignite/zns-dispatch/internal/service/sending"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// validateSampleSize is how many parsed jobs the validate endpoint echoes.
const validateSampleSize = 5

// createRunRequest is the JSON body for starting a run from a stored file.
type createRunRequest struct {
	Source       string            `json:"source"`
	TemplateID   string            `json:"template_id"`
	ParamMapping map[string]string `json:"param_mapping,omitempty"`
}

// loadedJobs is a parsed recipient file and where it came from.
type loadedJobs struct {
	source     string
	templateID string
	jobs       []dispatch.Job
}

// RunsHandler serves the /api/zns run endpoints.
type RunsHandler struct {
	runs       RunService
	store      RunReader
	opener     SourceOpener
	recipients config.RecipientsConfig
	oaID       string
	maxUpload  int64
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(runs RunService, store RunReader, opener SourceOpener, rc config.RecipientsConfig, oaID string, maxUpload int64) *RunsHandler {
	return &RunsHandler{
		runs:       runs,
		store:      store,
		opener:     opener,
		recipients: rc,
		oaID:       oaID,
		maxUpload:  maxUpload,
	}
}

// HandleCreate parses a recipient file and starts a run.
//
//	POST /api/zns/runs
//
// Accepts multipart/form-data with "file" and "template_id", or JSON
// {"source": "s3://bucket/key", "template_id": "..."}.
func (h *RunsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	loaded, ok := h.loadJobs(w, r)
	if !ok {
		return
	}

	run, err := h.runs.Start(r.Context(), sending.StartRequest{
		OAID:       h.oaID,
		TemplateID: loaded.templateID,
		Source:     loaded.source,
		Jobs:       loaded.jobs,
	})
	if err != nil {
		writeRunError(w, err)
		return
	}
	httputil.Accepted(w, run)
}

// HandleValidate parses a recipient file without sending anything.
//
//	POST /api/zns/recipients/validate
func (h *RunsHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	loaded, ok := h.loadJobs(w, r)
	if !ok {
		return
	}

	sample := loaded.jobs
	if len(sample) > validateSampleSize {
		sample = sample[:validateSampleSize]
	}
	httputil.OK(w, map[string]interface{}{
		"valid":       true,
		"source":      loaded.source,
		"template_id": loaded.templateID,
		"total_jobs":  len(loaded.jobs),
		"sample":      sample,
	})
}

// HandleList returns the most recent runs.
//
//	GET /api/zns/runs?limit=20
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.List(r.Context(), parseLimit(r, defaultListLimit, maxListLimit))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if runs == nil {
		runs = []*runstore.Run{}
	}
	httputil.OK(w, map[string]interface{}{"runs": runs})
}

// HandleGet returns one run with its latest progress.
//
//	GET /api/zns/runs/{id}
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, run)
}

// HandleResults returns the per-job results of a finished run.
//
//	GET /api/zns/runs/{id}/results
func (h *RunsHandler) HandleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := h.store.Results(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"run_id":  id,
		"results": results,
	})
}

// HandleCancel stops a run executing on this instance.
//
//	POST /api/zns/runs/{id}/cancel
func (h *RunsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runs.Cancel(r.Context(), id); err != nil {
		writeRunError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"id": id, "status": "cancelling"})
}

func (h *RunsHandler) loadJobs(w http.ResponseWriter, r *http.Request) (*loadedJobs, bool) {
	var (
		body    io.ReadCloser
		loaded  = &loadedJobs{}
		mapping = h.recipients.ParamMapping
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.maxUpload))
				return nil, false
			}
			httputil.BadRequest(w, "invalid multipart form: "+err.Error())
			return nil, false
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			httputil.BadRequest(w, "file is required")
			return nil, false
		}
		body = file
		loaded.source = "upload:" + hdr.Filename
		loaded.templateID = r.FormValue("template_id")
	} else {
		var req createRunRequest
		if !httputil.Decode(w, r, &req) {
			return nil, false
		}
		if strings.TrimSpace(req.Source) == "" {
			httputil.BadRequest(w, "source is required")
			return nil, false
		}
		rc, err := h.opener.Open(r.Context(), req.Source)
		if err != nil {
			writeRunError(w, err)
			return nil, false
		}
		body = rc
		loaded.source = req.Source
		loaded.templateID = req.TemplateID
		if len(req.ParamMapping) > 0 {
			mapping = req.ParamMapping
		}
	}
	defer body.Close()

	jobs, err := recipients.Parse(body, recipients.Options{
		TemplateID:   loaded.templateID,
		CountryCode:  h.recipients.CountryCode,
		MaxRows:      h.recipients.MaxRows,
		PhoneColumn:  h.recipients.PhoneColumn,
		ParamMapping: mapping,
	})
	if err != nil {
		writeRunError(w, err)
		return nil, false
	}
	loaded.jobs = jobs
	return loaded, true
}

// rowErrorDetail is the JSON form of a rejected row.
type rowErrorDetail struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Error  string `json:"error"`
}

// writeRunError maps service errors to HTTP responses.
func writeRunError(w http.ResponseWriter, err error) {
	var rowErrs recipients.RowErrors
	if errors.As(err, &rowErrs) {
		details := make([]rowErrorDetail, len(rowErrs))
		for i, re := range rowErrs {
			details[i] = rowErrorDetail{Row: re.Row, Column: re.Column, Error: re.Err.Error()}
		}
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_rows",
			fmt.Sprintf("%d invalid rows", len(rowErrs)), details)
		return
	}

	switch {
	case errors.Is(err, recipients.ErrMissingTemplate),
		errors.Is(err, recipients.ErrEmptyFile),
		errors.Is(err, recipients.ErrMissingPhoneColumn),
		errors.Is(err, recipients.ErrTooManyRows),
		errors.Is(err, recipients.ErrInvalidMapping),
		errors.Is(err, recipients.ErrInvalidSourceURI),
		errors.Is(err, recipients.ErrS3NotConfigured),
		errors.Is(err, recipients.ErrLocalNotAllowed),
		errors.Is(err, dispatch.ErrNoJobs),
		errors.Is(err, dispatch.ErrInvalidJob):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, recipients.ErrSourceNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, runstore.ErrRunNotFound):
		httputil.NotFound(w, "run not found")
	case errors.Is(err, sending.ErrRunInProgress):
		httputil.Conflict(w, "run_in_progress", err.Error())
	case errors.Is(err, sending.ErrNotActive):
		httputil.Conflict(w, "run_not_active", err.Error())
	case errors.Is(err, runstore.ErrResultsNotReady):
		httputil.Conflict(w, "results_not_ready", err.Error())
	case errors.Is(err, sending.ErrShuttingDown):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
