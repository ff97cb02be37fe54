//go:build swagger

package httpapi

import (
	_ "embed"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

//go:embed openapi.json
var openAPIDoc string

type embeddedDoc struct{}

func (embeddedDoc) ReadDoc() string { return openAPIDoc }

func init() {
	swag.Register(swag.Name, embeddedDoc{})
}

// MountSwagger serves the API document at /swagger/doc.json and the UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
