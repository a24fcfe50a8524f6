package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// ingestionSchema describes the transaction-ingestion and rule-
// authoring request bodies (§6) so malformed requests are rejected
// before they reach a handler, independent of the struct-tag checks
// types.go already runs on the decoded value.
const ingestionSchema = `
openapi: 3.0.0
info:
  title: alert engine ingestion API
  version: "1"
paths:
  /transactions:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [user_id, card_id, amount, currency, merchant_name, merchant_category, occurred_at, status]
              properties:
                user_id: {type: string}
                card_id: {type: string}
                amount: {type: string}
                currency: {type: string}
                merchant_name: {type: string}
                merchant_category: {type: string}
                occurred_at: {type: string, format: date-time}
                status: {type: string}
      responses:
        "202": {description: accepted}
  /rules/validate:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [nl_text]
              properties:
                nl_text: {type: string}
      responses:
        "200": {description: ok}
  /rules:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [nl_text]
              properties:
                nl_text: {type: string}
      responses:
        "201": {description: created}
`

// newSchemaRouter parses ingestionSchema once at startup. A panic here
// means the embedded schema itself is malformed, which is a build-time
// defect, not a request-time one.
func newSchemaRouter() routers.Router {
	doc, err := openapi3.NewLoader().LoadFromData([]byte(ingestionSchema))
	if err != nil {
		panic("httpapi: invalid embedded openapi schema: " + err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		panic("httpapi: embedded openapi schema failed validation: " + err.Error())
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		panic("httpapi: failed to build openapi router: " + err.Error())
	}
	return router
}

// validateSchema is chi middleware that checks a request's method,
// path, and JSON body against ingestionSchema before handing off to
// the route's handler. The body is buffered before validation and
// restored afterwards, so the handler decodes (and struct-tag
// validates) the same bytes itself.
func validateSchema(router routers.Router) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				// No matching documented route (e.g. /healthz, or an
				// {id} sub-route); let the handler/404 logic decide.
				next.ServeHTTP(w, r)
				return
			}

			// ValidateRequest drains r.Body to decode it against the
			// schema; buffer it first so the handler downstream still
			// sees the full body.
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				writeProblem(w, http.StatusBadRequest, "request failed schema validation: "+err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			next.ServeHTTP(w, r)
		})
	}
}
