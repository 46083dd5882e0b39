package orchestration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// orchestrationOpenAPISpec documents the orchestration HTTP surface.
// Requests are validated against it before reaching a handler, driven
// directly through openapi3filter rather than codegen'd server bindings.
const orchestrationOpenAPISpec = `
openapi: 3.0.3
info:
  title: aule orchestration API
  version: "1.0"
paths:
  /orchestration/workflows:
    post:
      operationId: submitWorkflow
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [id, name, tasks]
              properties:
                id: {type: string}
                name: {type: string}
                tasks:
                  type: array
                  items: {type: object}
      responses:
        "200": {description: workflow run accepted}
        "400": {description: validation error}
  /orchestration/workflows/{runId}:
    get:
      operationId: getWorkflowState
      parameters:
        - name: runId
          in: path
          required: true
          schema: {type: string}
      responses:
        "200": {description: run state}
        "404": {description: run not found}
  /orchestration/workflows/{runId}/progress:
    get:
      operationId: getWorkflowProgress
      parameters:
        - name: runId
          in: path
          required: true
          schema: {type: string}
      responses:
        "200": {description: run progress}
        "404": {description: run not found}
  /orchestration/workflows/{runId}/cancel:
    post:
      operationId: cancelWorkflow
      parameters:
        - name: runId
          in: path
          required: true
          schema: {type: string}
      responses:
        "202": {description: cancellation requested}
        "404": {description: run not found}
  /orchestration/workflows/{runId}/metrics:
    get:
      operationId: getWorkflowMetrics
      parameters:
        - name: runId
          in: path
          required: true
          schema: {type: string}
      responses:
        "200": {description: run metrics}
        "404": {description: no metrics recorded}
  /orchestration/visualize:
    post:
      operationId: visualizeWorkflow
      parameters:
        - name: format
          in: query
          required: false
          schema: {type: string, enum: [mermaid, graphviz, ascii, json], default: mermaid}
        - name: include_metrics
          in: query
          required: false
          schema: {type: boolean, default: false}
        - name: run_id
          in: query
          required: false
          schema: {type: string}
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [id, name, tasks]
      responses:
        "200": {description: rendered graph}
        "400": {description: validation error}
`

// orchestrationRequestValidator wraps kin-openapi's openapi3filter to
// reject requests that don't match the documented shape before any
// handler-level parsing runs.
type orchestrationRequestValidator struct {
	router routers.Router
}

func newOrchestrationRequestValidator() (*orchestrationRequestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(orchestrationOpenAPISpec))
	if err != nil {
		return nil, fmt.Errorf("orchestration api: failed to parse openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("orchestration api: invalid openapi document: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("orchestration api: failed to build router: %w", err)
	}
	return &orchestrationRequestValidator{router: router}, nil
}

// Middleware validates method/path/params/body against the OpenAPI
// document: a request matching no documented route gets 404, one whose
// params or body fail validation gets 400, and anything else is
// delegated to next.
func (v *orchestrationRequestValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Buffer the body so ValidateRequest's read doesn't consume it
		// before the handler downstream gets a chance to parse it.
		var raw []byte
		if r.Body != nil {
			raw, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(raw))
		}

		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(raw))
		next.ServeHTTP(w, r)
	})
}
