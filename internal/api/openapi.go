package api

import "net/http"

// handleOpenAPI serves a static description of the routes.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Version))
}

func buildOpenAPIDoc(version string) map[string]any {
	if version == "" {
		version = "dev"
	}
	jsonResponse := func(desc, ref string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/" + ref},
				},
			},
		}
	}
	batchParam := map[string]any{"name": "batch", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}
	notFound := map[string]any{"description": "Not found"}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "codemig results",
			"version": version,
		},
		"paths": map[string]any{
			"/healthz": map[string]any{"get": map[string]any{
				"operationId": "healthz",
				"responses":   map[string]any{"200": jsonResponse("Service health", "Healthz")},
			}},
			"/batches": map[string]any{"get": map[string]any{
				"operationId": "listBatches",
				"responses":   map[string]any{"200": jsonResponse("Known batches", "Batches")},
			}},
			"/batches/{batch}/results": map[string]any{"get": map[string]any{
				"operationId": "listResults",
				"parameters": []any{
					batchParam,
					map[string]any{"name": "max", "in": "query", "schema": map[string]any{"type": "string", "enum": []string{"pass", "fail", "error"}}},
				},
				"responses": map[string]any{"200": jsonResponse("Result summaries", "Results"), "404": notFound},
			}},
			"/batches/{batch}/results/{repo}": map[string]any{"get": map[string]any{
				"operationId": "getResult",
				"parameters": []any{
					batchParam,
					map[string]any{"name": "repo", "in": "path", "required": true, "description": "owner__repo", "schema": map[string]any{"type": "string"}},
				},
				"responses": map[string]any{"200": jsonResponse("Full result record", "Record"), "404": notFound},
			}},
			"/events": map[string]any{"get": map[string]any{
				"operationId": "events",
				"responses": map[string]any{"200": map[string]any{
					"description": "Server-sent progress events",
					"content":     map[string]any{"text/event-stream": map[string]any{}},
				}},
			}},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Healthz": map[string]any{"type": "object"},
				"Batches": map[string]any{"type": "object"},
				"Results": map[string]any{"type": "object"},
				"Record":  map[string]any{"type": "object"},
			},
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
		},
	}
}
