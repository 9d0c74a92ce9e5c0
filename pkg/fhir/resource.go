package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nithinmohantk/fhir-security/pkg/dpop"
)

// ContentType is the FHIR JSON media type used for all request bodies.
const ContentType = "application/fhir+json"

// maxResourceSize caps how much of a resource response is read into memory.
const maxResourceSize = 8 * 1024 * 1024

// Sender issues signed HTTP requests. *fhirclient.Client satisfies it.
type Sender interface {
	Do(ctx context.Context, method, path string, contentType string, body []byte) (*http.Response, error)
}

// OperationOutcomeError reports a FHIR server rejection. The raw body is
// preserved so callers can decode the OperationOutcome resource if present.
type OperationOutcomeError struct {
	Status int
	Body   []byte
}

func (e *OperationOutcomeError) Error() string {
	return fmt.Sprintf("fhir server returned status %d", e.Status)
}

// Repo performs FHIR REST interactions through a signed sender.
type Repo struct {
	sender Sender
}

// NewRepo wraps a signed sender.
func NewRepo(sender Sender) *Repo {
	return &Repo{sender: sender}
}

// Read fetches a resource by type and logical id.
func (r *Repo) Read(ctx context.Context, resourceType, id string) (json.RawMessage, error) {
	path, err := resourcePath(resourceType, id)
	if err != nil {
		return nil, err
	}
	return r.roundTrip(ctx, http.MethodGet, path, nil, http.StatusOK)
}

// Create posts a new resource and returns the server's copy.
func (r *Repo) Create(ctx context.Context, resourceType string, resource json.RawMessage) (json.RawMessage, error) {
	path, err := resourcePath(resourceType, "")
	if err != nil {
		return nil, err
	}
	return r.roundTrip(ctx, http.MethodPost, path, resource, http.StatusCreated, http.StatusOK)
}

// Update puts a resource at its logical id and returns the stored copy.
func (r *Repo) Update(ctx context.Context, resourceType, id string, resource json.RawMessage) (json.RawMessage, error) {
	path, err := resourcePath(resourceType, id)
	if err != nil {
		return nil, err
	}
	return r.roundTrip(ctx, http.MethodPut, path, resource, http.StatusOK, http.StatusCreated)
}

// Delete removes a resource by type and logical id.
func (r *Repo) Delete(ctx context.Context, resourceType, id string) error {
	path, err := resourcePath(resourceType, id)
	if err != nil {
		return err
	}
	_, err = r.roundTrip(ctx, http.MethodDelete, path, nil,
		http.StatusOK, http.StatusNoContent, http.StatusAccepted)
	return err
}

// Search queries a resource type and returns the result Bundle.
func (r *Repo) Search(ctx context.Context, resourceType string, params url.Values) (json.RawMessage, error) {
	path, err := resourcePath(resourceType, "")
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return r.roundTrip(ctx, http.MethodGet, path, nil, http.StatusOK)
}

func (r *Repo) roundTrip(ctx context.Context, method, path string, body json.RawMessage, okStatuses ...int) (json.RawMessage, error) {
	var payload []byte
	contentType := ""
	if body != nil {
		payload = body
		contentType = ContentType
	}

	resp, err := r.sender.Do(ctx, method, path, contentType, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize))
	if err != nil {
		return nil, fmt.Errorf("reading fhir response: %w", err)
	}

	for _, ok := range okStatuses {
		if resp.StatusCode == ok {
			return raw, nil
		}
	}
	return nil, &OperationOutcomeError{Status: resp.StatusCode, Body: raw}
}

// resourcePath builds "/Type" or "/Type/id", rejecting segments that would
// escape the resource space.
func resourcePath(resourceType, id string) (string, error) {
	if resourceType == "" || strings.ContainsAny(resourceType, "/?#") {
		return "", dpop.InvalidInputError("invalid resource type")
	}
	if id == "" {
		return "/" + resourceType, nil
	}
	if strings.ContainsAny(id, "/?#") {
		return "", dpop.InvalidInputError("invalid resource id")
	}
	return "/" + resourceType + "/" + url.PathEscape(id), nil
}
