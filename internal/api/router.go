package api

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRecordRoutes mounts the dynamic entity surface under /api.
// Specific segments are registered before the catch-all :id routes so
// /views and /rls-hints are not swallowed as record ids.
func RegisterRecordRoutes(app *fiber.App, h *RecordHandler, middleware ...fiber.Handler) {
	grp := app.Group("/api", middleware...)

	grp.Get("/:entity", h.List)
	grp.Post("/:entity", h.Create)
	grp.Get("/:entity/rls-hints", h.RLSHints)
	grp.Get("/:entity/views/:view", h.View)
	grp.Get("/:entity/:id", h.GetByID)
	grp.Patch("/:entity/:id", h.Update)
	grp.Delete("/:entity/:id", h.Delete)
}

// RegisterAdminRoutes mounts the schema catalog surface under /api/_admin.
func RegisterAdminRoutes(app *fiber.App, h *AdminHandler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Post("/entities", h.CreateEntity)
	admin.Put("/entities/:name", h.UpdateEntity)
	admin.Delete("/entities/:name", h.DeactivateEntity)
	admin.Post("/entities/:name/ensure", h.EnsureEntity)
	admin.Post("/invalidate", h.Invalidate)
	admin.Get("/audit", h.Audit)
}
