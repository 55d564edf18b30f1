package openapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestGenerateValidates(t *testing.T) {
	doc := Generate(Options{BaseURL: "http://localhost:8080"})

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	loaded, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		t.Fatalf("load generated document: %v", err)
	}
	if err := loaded.Validate(context.Background()); err != nil {
		t.Fatalf("generated document is invalid: %v", err)
	}
}

func TestGeneratePaths(t *testing.T) {
	doc := Generate(Options{})

	tests := []struct {
		path   string
		method string
		codes  []string
	}{
		{"/api/v1/auth/login", "POST", []string{"200", "400", "401"}},
		{"/api/v1/access", "GET", []string{"200", "400", "401", "403"}},
		{"/api/v1/keys", "GET", []string{"200", "401"}},
		{"/api/v1/keys", "POST", []string{"200", "400", "401"}},
		{"/api/v1/keys/{id}/revoke", "POST", []string{"200", "400", "401", "404"}},
		{"/api/v1/audit", "GET", []string{"200", "401"}},
		{"/healthz", "GET", []string{"200"}},
		{"/readyz", "GET", []string{"200", "503"}},
	}
	for _, tt := range tests {
		item := doc.Paths.Value(tt.path)
		if item == nil {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		op := item.GetOperation(tt.method)
		if op == nil {
			t.Errorf("missing %s %s", tt.method, tt.path)
			continue
		}
		for _, code := range tt.codes {
			if op.Responses.Value(code) == nil {
				t.Errorf("%s %s: missing %s response", tt.method, tt.path, code)
			}
		}
	}

	if n := OperationCount(doc); n != len(tests) {
		t.Errorf("operation count: got %d, want %d", n, len(tests))
	}
}

func TestGenerateSecurity(t *testing.T) {
	doc := Generate(Options{APIKeyHeader: "X-Rotagate-Key"})

	scheme := doc.Components.SecuritySchemes["apiKey"]
	if scheme == nil || scheme.Value.Name != "X-Rotagate-Key" {
		t.Fatalf("api key scheme should use the configured header, got %+v", scheme)
	}

	access := doc.Paths.Value("/api/v1/access").Get
	if access.Security == nil || len(*access.Security) != 1 {
		t.Fatalf("access should require the api key scheme")
	}
	if _, ok := (*access.Security)[0]["apiKey"]; !ok {
		t.Errorf("access security: %+v", *access.Security)
	}

	login := doc.Paths.Value("/api/v1/auth/login").Post
	if login.Security == nil || len(*login.Security) != 0 {
		t.Errorf("login must not require auth")
	}

	list := doc.Paths.Value("/api/v1/keys").Get
	if _, ok := (*list.Security)[0]["bearerAuth"]; !ok {
		t.Errorf("key listing should require a bearer session")
	}
}

func TestAPIKeySchemaHasNoSecrets(t *testing.T) {
	doc := Generate(Options{})
	props := doc.Components.Schemas["APIKey"].Value.Properties
	for _, name := range []string{"key_hash", "key_fingerprint", "raw_key_once"} {
		if _, ok := props[name]; ok {
			t.Errorf("APIKey schema must not document %s", name)
		}
	}
}
