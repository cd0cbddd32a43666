package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"shelfstore/internal/domain"
)

// MountRoutes wires the resource endpoints onto the router. heartbeatCheck
// probes the storage backend for /__heartbeat__.
func MountRoutes(r chi.Router, h *Handler, version string, heartbeatCheck func(r *http.Request) error) {
	r.Get("/", h.hello(version))
	r.Get("/__heartbeat__", h.heartbeat(heartbeatCheck))

	r.Route("/buckets/{bucket}", func(r chi.Router) {
		r.Put("/", h.putObject(domain.ResourceBucket))
		r.Get("/", h.getObject(domain.ResourceBucket))
		r.Patch("/", h.patchObject(domain.ResourceBucket))
		r.Delete("/", h.deleteObject(domain.ResourceBucket))

		mountScope(r, "/groups", h, domain.ResourceGroup)
		r.Route("/collections", func(r chi.Router) {
			r.Get("/", h.listObjects(domain.ResourceCollection))
			r.Post("/", h.createObject(domain.ResourceCollection))
			r.Delete("/", h.deleteObjects(domain.ResourceCollection))

			r.Route("/{collection}", func(r chi.Router) {
				r.Put("/", h.putObject(domain.ResourceCollection))
				r.Get("/", h.getObject(domain.ResourceCollection))
				r.Patch("/", h.patchObject(domain.ResourceCollection))
				r.Delete("/", h.deleteObject(domain.ResourceCollection))

				mountScope(r, "/records", h, domain.ResourceRecord)
			})
		})
	})
}

// mountScope wires the plural endpoint and the per-object endpoints of a
// leaf resource type.
func mountScope(r chi.Router, pattern string, h *Handler, t domain.ResourceType) {
	r.Route(pattern, func(r chi.Router) {
		r.Get("/", h.listObjects(t))
		r.Post("/", h.createObject(t))
		r.Delete("/", h.deleteObjects(t))

		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.putObject(t))
			r.Get("/", h.getObject(t))
			r.Patch("/", h.patchObject(t))
			r.Delete("/", h.deleteObject(t))
		})
	})
}
