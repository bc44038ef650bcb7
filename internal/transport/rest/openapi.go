package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIDocument is the parsed and validated API description served at
// /openapi.yml.
type OpenAPIDocument struct {
	path string
	doc  *openapi3.T
}

// LoadOpenAPI parses the document at path and validates it, so a broken
// description fails startup instead of the swagger page.
func LoadOpenAPI(ctx context.Context, path string) (*OpenAPIDocument, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document %s: %w", path, err)
	}
	return &OpenAPIDocument{path: path, doc: doc}, nil
}

func (d *OpenAPIDocument) Version() string {
	if d.doc.Info == nil {
		return ""
	}
	return d.doc.Info.Version
}

// Operations lists "METHOD path" for every documented operation.
func (d *OpenAPIDocument) Operations() []string {
	var out []string
	for path, item := range d.doc.Paths.Map() {
		for method := range item.Operations() {
			out = append(out, method+" "+path)
		}
	}
	return out
}

func (d *OpenAPIDocument) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeFile(w, r, d.path)
}
