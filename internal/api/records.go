package api

import (
	"github.com/gofiber/fiber/v2"

	"schemakit/internal/engine"
	"schemakit/internal/schema"
)

// RecordHandler serves the dynamic per-entity CRUD surface. All schema
// lookups, permission checks, row restrictions and SQL generation live in
// the engine service; handlers only translate HTTP in and out.
type RecordHandler struct {
	svc *engine.Service
}

func NewRecordHandler(svc *engine.Service) *RecordHandler {
	return &RecordHandler{svc: svc}
}

// List handles GET /api/:entity
func (h *RecordHandler) List(c *fiber.Ctx) error {
	entity := c.Params("entity")
	tenant := getTenant(c)
	user := getUser(c)

	cfg, err := h.svc.Registry().Load(c.Context(), entity, tenant)
	if err != nil {
		return err
	}
	opts, err := parseFindOptions(c, cfg)
	if err != nil {
		return err
	}

	rows, err := h.svc.Find(c.Context(), entity, tenant, user, opts)
	if err != nil {
		return err
	}
	total, err := h.svc.Count(c.Context(), entity, tenant, user, opts.Conditions)
	if err != nil {
		return err
	}

	if rows == nil {
		rows = []map[string]any{}
	}
	perPage := opts.Limit
	page := 1
	if perPage > 0 {
		page = opts.Offset/perPage + 1
	}
	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *RecordHandler) GetByID(c *fiber.Ctx) error {
	entity := c.Params("entity")
	id := c.Params("id")

	row, err := h.svc.FindByID(c.Context(), entity, getTenant(c), getUser(c), id)
	if err != nil {
		return err
	}
	if row == nil {
		return &apiError{Code: "NOT_FOUND", Status: 404, Message: entity + " with id " + id + " not found"}
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/:entity
func (h *RecordHandler) Create(c *fiber.Ctx) error {
	entity := c.Params("entity")

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return badRequest("Invalid JSON body")
	}

	row, err := h.svc.Create(c.Context(), entity, getTenant(c), getUser(c), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": row})
}

// Update handles PATCH /api/:entity/:id
func (h *RecordHandler) Update(c *fiber.Ctx) error {
	entity := c.Params("entity")
	id := c.Params("id")

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return badRequest("Invalid JSON body")
	}

	row, err := h.svc.Update(c.Context(), entity, getTenant(c), getUser(c), id, body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /api/:entity/:id
func (h *RecordHandler) Delete(c *fiber.Ctx) error {
	entity := c.Params("entity")
	id := c.Params("id")

	if err := h.svc.Delete(c.Context(), entity, getTenant(c), getUser(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// View handles GET /api/:entity/views/:view
func (h *RecordHandler) View(c *fiber.Ctx) error {
	entity := c.Params("entity")
	viewName := c.Params("view")
	tenant := getTenant(c)

	cfg, err := h.svc.Registry().Load(c.Context(), entity, tenant)
	if err != nil {
		return err
	}
	opts, err := parseFindOptions(c, cfg)
	if err != nil {
		return err
	}

	rows, err := h.svc.ExecuteView(c.Context(), entity, tenant, viewName, getUser(c), opts)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// RLSHints handles GET /api/:entity/rls-hints. Only conditions flagged as
// exposed are returned; everything else stays server-side.
func (h *RecordHandler) RLSHints(c *fiber.Ctx) error {
	entity := c.Params("entity")

	hints, err := h.svc.RLSHints(c.Context(), entity, getTenant(c), getUser(c))
	if err != nil {
		return err
	}
	if hints == nil {
		hints = []schema.RLSCondition{}
	}
	return c.JSON(fiber.Map{"data": hints})
}
