package previews

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"workflow-preview/capture"
	"workflow-preview/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const maxFormMemory = 32 << 20

// Service is the preview API the handlers drive.
type Service interface {
	Generate(ctx context.Context, doc *capture.Document, req core.PreviewRequest) (*core.PreviewResult, error)
	Publish(ctx context.Context, workflowID string, format core.Format, light, dark []byte) (*core.PreviewResult, error)
	Delete(ctx context.Context, workflowID, previewID string, format core.Format) error
	List(ctx context.Context, workflowID string) ([]*core.PreviewResult, error)
	Get(ctx context.Context, workflowID, previewID string) (*core.PreviewResult, error)
}

func errorJSON(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// writeError maps classified failures to status codes. Unclassified and backend
// failures answer 500 with fallback so internals do not leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch core.KindOf(err) {
	case core.KindValidation:
		errorJSON(w, r, http.StatusBadRequest, core.Message(err))
	case core.KindElementNotFound:
		errorJSON(w, r, http.StatusUnprocessableEntity, core.Message(err))
	case core.KindNotFound:
		errorJSON(w, r, http.StatusNotFound, core.Message(err))
	default:
		errorJSON(w, r, http.StatusInternalServerError, fallback)
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// readFormFile returns the bytes of an uploaded file field, or nil when it is absent.
func readFormFile(form *multipart.Form, field string) ([]byte, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// HandlePublish accepts a multipart upload of both theme images of a workflow.
// Body size is capped by middleware.MaxBodyBytes on the route.
func HandlePublish(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			if isTooLarge(err) {
				errorJSON(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			logrus.WithError(err).Warn("Failed to parse preview upload")
			errorJSON(w, r, http.StatusBadRequest, "Missing required fields")
			return
		}
		defer r.MultipartForm.RemoveAll()

		workflowID := r.FormValue("workflowId")
		light, err := readFormFile(r.MultipartForm, "lightModeImage")
		if err != nil {
			logrus.WithError(err).Error("Failed to read light mode image")
			errorJSON(w, r, http.StatusInternalServerError, "Failed to generate workflow preview")
			return
		}
		dark, err := readFormFile(r.MultipartForm, "darkModeImage")
		if err != nil {
			logrus.WithError(err).Error("Failed to read dark mode image")
			errorJSON(w, r, http.StatusInternalServerError, "Failed to generate workflow preview")
			return
		}

		if workflowID == "" || len(light) == 0 || len(dark) == 0 {
			errorJSON(w, r, http.StatusBadRequest, "Missing required fields")
			return
		}

		var format core.Format
		if raw := r.FormValue("format"); raw != "" {
			if format, err = core.ParseFormat(raw); err != nil {
				writeError(w, r, err, "Failed to generate workflow preview")
				return
			}
		}

		result, err := svc.Publish(r.Context(), workflowID, format, light, dark)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"workflow_id": workflowID,
			}).Error("Error generating workflow preview")
			writeError(w, r, err, "Failed to generate workflow preview")
			return
		}

		render.JSON(w, r, result)
	}
}

type generateRequest struct {
	State    json.RawMessage `json:"state"`
	Selector string          `json:"selector"`
	Padding  *int            `json:"padding"`
	Scale    *float64        `json:"scale"`
	Format   string          `json:"format"`
	Quality  *int            `json:"quality"`
}

// HandleGenerate renders a preview of the posted workflow state on the server.
func HandleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")
		defer r.Body.Close()

		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			if isTooLarge(err) {
				errorJSON(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			errorJSON(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(body.State) == 0 || string(body.State) == "null" {
			errorJSON(w, r, http.StatusBadRequest, "state is required")
			return
		}

		req := core.NewPreviewRequest(workflowID)
		// WebP cannot be encoded server side.
		req.Format = core.FormatPNG
		if body.Selector != "" {
			req.Selector = body.Selector
		}
		if body.Padding != nil {
			req.Padding = *body.Padding
		}
		if body.Scale != nil {
			req.Scale = *body.Scale
		}
		if body.Quality != nil {
			req.Quality = *body.Quality
		}
		if body.Format != "" {
			format, err := core.ParseFormat(body.Format)
			if err != nil {
				writeError(w, r, err, "Failed to generate workflow preview")
				return
			}
			req.Format = format
		}

		state, err := capture.ParseWorkflowState(body.State)
		if err != nil {
			errorJSON(w, r, http.StatusBadRequest, err.Error())
			return
		}

		result, err := svc.Generate(r.Context(), capture.BuildDocument(state), req)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"workflow_id": workflowID,
			}).Error("Error generating workflow preview")
			writeError(w, r, err, "Failed to generate workflow preview")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, result)
	}
}

func HandleListPreviews(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")

		list, err := svc.List(r.Context(), workflowID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"workflow_id": workflowID,
			}).Error("Failed to list previews")
			writeError(w, r, err, "Failed to list previews")
			return
		}

		if list == nil {
			list = []*core.PreviewResult{}
		}
		render.JSON(w, r, list)
	}
}

func HandleGetPreview(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")
		previewID := chi.URLParam(r, "previewId")

		result, err := svc.Get(r.Context(), workflowID, previewID)
		if err != nil {
			if !core.IsKind(err, core.KindNotFound) {
				logrus.WithFields(logrus.Fields{
					"error":       err,
					"workflow_id": workflowID,
					"preview_id":  previewID,
				}).Error("Failed to get preview")
			}
			writeError(w, r, err, "Failed to get preview")
			return
		}

		render.JSON(w, r, result)
	}
}

func HandleDeletePreview(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")
		previewID := chi.URLParam(r, "previewId")

		var format core.Format
		if raw := r.URL.Query().Get("format"); raw != "" {
			var err error
			if format, err = core.ParseFormat(raw); err != nil {
				writeError(w, r, err, "Failed to delete workflow preview")
				return
			}
		}

		if err := svc.Delete(r.Context(), workflowID, previewID, format); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":       err,
				"workflow_id": workflowID,
				"preview_id":  previewID,
			}).Error("Failed to delete workflow preview")
			writeError(w, r, err, "Failed to delete workflow preview")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleHealth reports liveness and the storage backend in use.
func HandleHealth(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok", "storage": backend})
	}
}
