// Package openapi builds the OpenAPI 3.1 document describing rotagate's HTTP
// API. The document is static apart from the server URL and key header name.
package openapi

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/rotagate/rotagate/internal/model"
)

// Options parameterizes the generated document.
type Options struct {
	BaseURL      string
	APIKeyHeader string
	Version      string
}

// Generate returns the OpenAPI document for the rotagate API.
func Generate(opts Options) *openapi3.T {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "rotagate API",
			Description: "API key issuance with rotate-on-use. Every successful access invalidates the presented key and returns its successor once.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = schemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "header",
				Name:        opts.APIKeyHeader,
				Description: "Single-use API key. The response carries the next key.",
			},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Operator session token from POST /api/v1/auth/login.",
			},
		},
	}
	doc.Components = &components

	bearer := &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	apiKey := &openapi3.SecurityRequirements{{"apiKey": {}}}
	none := &openapi3.SecurityRequirements{}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/api/v1/auth/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Log in as an operator",
			OperationID: "login",
			Security:    none,
			RequestBody: jsonBody("Operator credentials", "LoginRequest", true),
			Responses:   responses(http.StatusOK, "Session issued", componentRef("LoginResponse"), 400, 401),
		},
	})

	doc.Paths.Set("/api/v1/access", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"access"},
			Summary:     "Access the protected asset and rotate the presented key",
			OperationID: "access",
			Security:    apiKey,
			Responses:   responses(http.StatusOK, "Access granted; the presented key is now spent", componentRef("AccessResponse"), 400, 401, 403),
		},
	})

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys, newest first",
			OperationID: "listKeys",
			Security:    bearer,
			Responses:   responses(http.StatusOK, "Key metadata", arrayOf("APIKey"), 401),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Create an API key",
			OperationID: "createKey",
			Security:    bearer,
			RequestBody: jsonBody("Optional label", "CreateKeyRequest", false),
			Responses:   responses(http.StatusOK, "Key created; raw_key_once is shown only here", componentRef("CreatedKey"), 400, 401),
		},
	})

	doc.Paths.Set("/api/v1/keys/{id}/revoke", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke an API key",
			OperationID: "revokeKey",
			Security:    bearer,
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewPathParameter("id").
						WithDescription("API key id").
						WithSchema(openapi3.NewInt64Schema()),
				},
			},
			Responses: responses(http.StatusOK, "Key revoked (or already revoked)", componentRef("OKResponse"), 400, 401, 404),
		},
	})

	doc.Paths.Set("/api/v1/audit", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"audit"},
			Summary:     "Recent audit entries, newest first",
			OperationID: "recentAudit",
			Security:    bearer,
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("limit").
						WithDescription("Maximum entries to return (default 50, max 500).").
						WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
				},
			},
			Responses: responses(http.StatusOK, "Audit entries", arrayOf("AuditLogEntry"), 401),
		},
	})

	for _, p := range []struct{ path, id, summary string }{
		{"/healthz", "healthz", "Liveness probe"},
		{"/readyz", "readyz", "Readiness probe (store ping and audit state)"},
	} {
		doc.Paths.Set(p.path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:        []string{"system"},
				Summary:     p.summary,
				OperationID: p.id,
				Security:    none,
				Responses:   responses(http.StatusOK, "Status", componentRef("StatusResponse"), 503),
			},
		})
	}

	return doc
}

func schemas() openapi3.Schemas {
	status := func(d string) *openapi3.SchemaRef {
		return enumSchema(d, string(model.KeyStatusActive), string(model.KeyStatusRevoked))
	}

	return openapi3.Schemas{
		"ErrorResponse": objectSchema([]string{"error"}, openapi3.Schemas{
			"error": stringSchema("Human readable error message."),
		}),
		"OKResponse": objectSchema([]string{"ok"}, openapi3.Schemas{
			"ok": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
		}),
		"StatusResponse": objectSchema([]string{"status"}, openapi3.Schemas{
			"status": enumSchema("", "ok", "degraded"),
			"checks": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: stringSchema("")},
			}},
		}),
		"LoginRequest": objectSchema([]string{"username", "password"}, openapi3.Schemas{
			"username": stringSchema(""),
			"password": formattedSchema("string", "password", ""),
		}),
		"LoginResponse": objectSchema([]string{"token", "token_type", "expires_in"}, openapi3.Schemas{
			"token":      stringSchema("Signed session token."),
			"token_type": enumSchema("", "Bearer"),
			"expires_in": int64Schema("Token lifetime in seconds."),
		}),
		"CreateKeyRequest": objectSchema(nil, openapi3.Schemas{
			"label": stringSchema("Defaults to \"default\"; at most 128 characters."),
		}),
		"CreatedKey": objectSchema([]string{"id", "label", "status", "key_last4", "raw_key_once"}, openapi3.Schemas{
			"id":           int64Schema(""),
			"label":        stringSchema(""),
			"status":       status(""),
			"key_last4":    stringSchema("Last four characters of the raw key."),
			"raw_key_once": stringSchema("The raw key. It is never shown again."),
		}),
		"APIKey": objectSchema([]string{"id", "label", "status", "key_last4", "rotation_count", "created_at"}, openapi3.Schemas{
			"id":                int64Schema(""),
			"label":             stringSchema(""),
			"status":            status(""),
			"key_last4":         stringSchema(""),
			"rotation_count":    int64Schema("Number of rotations so far."),
			"created_at":        timeSchema("", false),
			"last_used_at":      timeSchema("", true),
			"last_rotated_at":   timeSchema("", true),
			"revoked_at":        timeSchema("", true),
			"revocation_reason": stringSchema(""),
		}),
		"Asset": objectSchema([]string{"name", "key_id", "key_label", "rotation_count", "served_at"}, openapi3.Schemas{
			"name":           stringSchema(""),
			"key_id":         int64Schema(""),
			"key_label":      stringSchema(""),
			"rotation_count": int64Schema("Rotation count after this access."),
			"served_at":      timeSchema("", false),
		}),
		"AccessResponse": objectSchema([]string{"access", "asset", "rotated_key_once"}, openapi3.Schemas{
			"access":           enumSchema("", "granted"),
			"asset":            componentRef("Asset"),
			"rotated_key_once": stringSchema("The next raw key. The presented one no longer works."),
		}),
		"AuditLogEntry": objectSchema([]string{"id", "actor", "action", "meta", "created_at"}, openapi3.Schemas{
			"id":    int64Schema(""),
			"actor": stringSchema(""),
			"action": enumSchema("",
				string(model.ActionCreateKey), string(model.ActionKeyUsed),
				string(model.ActionKeyRotated), string(model.ActionRevokeKey)),
			"target_type": stringSchema(""),
			"target_id":   stringSchema(""),
			"ip":          stringSchema(""),
			"meta":        &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			"created_at":  timeSchema("", false),
		}),
	}
}

func jsonBody(description, schema string, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    required,
			Content:     openapi3.NewContentWithJSONSchemaRef(componentRef(schema)),
		},
	}
}

// responses builds the success response plus the listed error statuses, all
// of which share the ErrorResponse envelope.
func responses(status int, description string, schema *openapi3.SchemaRef, errorStatuses ...int) *openapi3.Responses {
	opts := []openapi3.NewResponsesOption{
		openapi3.WithStatus(status, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(description).
				WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
		}),
	}

	errorRef := componentRef("ErrorResponse")
	for _, code := range append(errorStatuses, http.StatusInternalServerError) {
		opts = append(opts, openapi3.WithStatus(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(http.StatusText(code)).
				WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		}))
	}
	return openapi3.NewResponses(opts...)
}

// OperationCount returns the number of operations in doc, for diagnostics.
func OperationCount(doc *openapi3.T) int {
	n := 0
	for _, item := range doc.Paths.Map() {
		n += len(item.Operations())
	}
	return n
}
