package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	leosync "github.com/leobook/leosync/internal/sync"
	"github.com/leobook/leosync/internal/validation"
)

const problemBase = "https://leosync.dev/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// problemSlugs maps HTTP status codes to the last segment of the type URI.
var problemSlugs = map[int]string{
	http.StatusBadRequest:          "bad-request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusNotFound:            "not-found",
	http.StatusConflict:            "sync-in-progress",
	http.StatusUnprocessableEntity: "validation-error",
	http.StatusInternalServerError: "internal-error",
	http.StatusServiceUnavailable:  "sync-disabled",
}

// newProblem fills type and title from the status code.
func newProblem(r *http.Request, status int, detail string) Problem {
	slug, ok := problemSlugs[status]
	if !ok {
		slug = "unknown"
	}
	title := http.StatusText(status)
	if status == http.StatusUnprocessableEntity {
		title = "Validation Error"
	}
	return Problem{
		Type:     problemBase + slug,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapSyncError converts run errors to Problem Details responses. Details of
// unexpected errors stay in the server log.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, leosync.ErrSyncInProgress) {
		WriteProblem(w, r, http.StatusConflict, "A sync run is already in progress")
		return
	}
	WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
}
