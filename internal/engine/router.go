package engine

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes wires the mapping, rule, template, statistics and
// conversion endpoints onto an authenticated router group. Mutations on
// mapping configuration are admin-only; conversion and the rule test
// endpoint are open to any authenticated user.
func RegisterRoutes(api fiber.Router, h *Handler, requireAdmin fiber.Handler) {
	mappings := api.Group("/field-mappings")
	mappings.Get("/", h.ListMappings)
	mappings.Get("/available-fields/:entity", h.AvailableFields)
	mappings.Post("/validate", h.ValidateMappings)
	mappings.Post("/", requireAdmin, h.CreateMapping)
	mappings.Put("/bulk", requireAdmin, h.BulkUpdateMappings)
	mappings.Get("/:id", h.GetMapping)
	mappings.Put("/:id", requireAdmin, h.UpdateMapping)
	mappings.Delete("/:id", requireAdmin, h.DeleteMapping)

	rules := api.Group("/transformation-rules")
	rules.Get("/", h.ListRules)
	rules.Post("/test", h.TestRule)
	rules.Post("/", requireAdmin, h.CreateRule)
	rules.Get("/:id", h.GetRule)
	rules.Put("/:id", requireAdmin, h.UpdateRule)
	rules.Delete("/:id", requireAdmin, h.DeleteRule)

	templates := api.Group("/field-mapping-templates")
	templates.Get("/", h.ListTemplates)
	templates.Post("/", requireAdmin, h.CreateTemplate)
	templates.Get("/:id", h.GetTemplate)
	templates.Post("/:id/apply", requireAdmin, h.ApplyTemplate)
	templates.Delete("/:id", requireAdmin, h.DeleteTemplate)

	api.Get("/field-mapping-statistics", h.ListStats)

	api.Post("/leads/:id/convert", h.ConvertLead)
	api.Get("/leads/:id/conversion-history", h.ConversionHistory)
}
