package swagger

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	httpSwagger "github.com/swaggo/http-swagger"
)

const (
	SpecRoute       = "/openapi.yml"
	DefaultSpecPath = "api/openapi.yml"
)

// Spec is the OpenAPI document, validated once at startup and served from memory.
type Spec struct {
	raw []byte
	doc *openapi3.T
}

func LoadSpec(ctx context.Context, path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}

	return &Spec{raw: raw, doc: doc}, nil
}

func (s *Spec) Title() string {
	return s.doc.Info.Title
}

func (s *Spec) Version() string {
	return s.doc.Info.Version
}

// Paths lists the documented paths, relative to the first server URL.
func (s *Spec) Paths() []string {
	return s.doc.Paths.InMatchingOrder()
}

func (s *Spec) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(s.raw)
	}
}

// Handler serves the Swagger UI pointed at the OpenAPI document.
func Handler() http.Handler {
	return httpSwagger.Handler(
		httpSwagger.URL(SpecRoute),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DeepLinking(true),
		httpSwagger.PersistAuthorization(true),
	)
}
