package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	// registers the admin API document with swag
	_ "danmud/internal/docs"
)

// MountSwagger serves the admin API document and UI under /swagger.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(AdminPrefix+"/swagger/doc.json"),
	))
}
