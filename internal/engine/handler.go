package engine

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// Handler serves the field mapping, rule, template and conversion APIs.
type Handler struct {
	store       *store.Store
	transformer *Transformer
	converter   *Converter
}

func NewHandler(s *store.Store, t *Transformer) *Handler {
	return &Handler{
		store:       s,
		transformer: t,
		converter:   NewConverter(s, t),
	}
}

// user returns the authenticated user placed in locals by the auth
// middleware.
func user(c *fiber.Ctx) *metadata.UserContext {
	u, _ := c.Locals("user").(*metadata.UserContext)
	return u
}

// respondError translates store sentinels and AppErrors into HTTP
// responses; anything else becomes a 500 with the detail logged, not
// leaked.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: NewAppError("NOT_FOUND", fiber.StatusNotFound, "resource not found"),
		})
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error: NewAppError("CONFLICT", fiber.StatusConflict, "resource already exists"),
		})
	}
	log.Printf("ERROR: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: NewAppError("INTERNAL", fiber.StatusInternalServerError, "internal server error"),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: NewAppError("BAD_REQUEST", fiber.StatusBadRequest, msg),
	})
}

// --- Field mappings ---

func (h *Handler) ListMappings(c *fiber.Ctx) error {
	u := user(c)
	mappings, err := ListMappings(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, MappingFilter{
		SourceEntity:    c.Query("source_entity"),
		TargetEntity:    c.Query("target_entity"),
		IncludeInactive: c.QueryBool("include_inactive"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": mappings})
}

func (h *Handler) GetMapping(c *fiber.Ctx) error {
	u := user(c)
	m, err := GetMapping(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": m})
}

func (h *Handler) CreateMapping(c *fiber.Ctx) error {
	var input MappingInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	m, err := CreateMapping(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, input)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": m})
}

func (h *Handler) UpdateMapping(c *fiber.Ctx) error {
	var update MappingUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	m, err := UpdateMapping(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id"), update)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": m})
}

func (h *Handler) DeleteMapping(c *fiber.Ctx) error {
	u := user(c)
	if err := DeleteMapping(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) BulkUpdateMappings(c *fiber.Ctx) error {
	var body struct {
		Updates []BulkMappingUpdate `json:"updates"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	mappings, err := BulkUpdateMappings(c.Context(), h.store, u.TenantID, body.Updates)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": mappings})
}

func (h *Handler) ValidateMappings(c *fiber.Ctx) error {
	var body struct {
		Mappings []MappingInput `json:"mappings"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	details := ValidateMappingConfig(body.Mappings)
	return c.JSON(fiber.Map{
		"valid":  len(details) == 0,
		"errors": details,
	})
}

func (h *Handler) AvailableFields(c *fiber.Ctx) error {
	u := user(c)
	fields, err := AvailableFields(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("entity"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": fields})
}

// --- Transformation rules ---

func (h *Handler) ListRules(c *fiber.Ctx) error {
	u := user(c)
	rules, err := ListRules(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.QueryBool("include_inactive"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": rules})
}

func (h *Handler) GetRule(c *fiber.Ctx) error {
	u := user(c)
	rule, err := GetRule(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) CreateRule(c *fiber.Ctx) error {
	var input RuleInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	rule, err := CreateRule(c.Context(), h.store.DB, h.store.Dialect, h.transformer, u.TenantID, input)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": rule})
}

func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	var input RuleInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	rule, err := UpdateRule(c.Context(), h.store.DB, h.store.Dialect, h.transformer, u.TenantID, c.Params("id"), input)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) DeleteRule(c *fiber.Ctx) error {
	u := user(c)
	if err := DeleteRule(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// TestRule runs rule code against caller-supplied input without persisting
// anything. Available to any authenticated user so operators can try code
// before an admin trusts it in a mapping.
func (h *Handler) TestRule(c *fiber.Ctx) error {
	var body struct {
		Code      string         `json:"code"`
		Value     any            `json:"value"`
		Record    map[string]any `json:"record"`
		TimeoutMs int            `json:"timeout_ms"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Code == "" {
		return badRequest(c, "code is required")
	}

	result, err := h.transformer.Execute(c.Context(), body.Code, body.Value, body.Record, body.TimeoutMs)
	if err != nil {
		return c.JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "result": result})
}

// --- Templates ---

func (h *Handler) ListTemplates(c *fiber.Ctx) error {
	u := user(c)
	templates, err := ListTemplates(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, TemplateFilter{
		TemplateType: c.Query("template_type"),
		TargetEntity: c.Query("target_entity"),
		Search:       c.Query("search"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": templates})
}

func (h *Handler) GetTemplate(c *fiber.Ctx) error {
	u := user(c)
	tpl, err := GetTemplate(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": tpl})
}

func (h *Handler) CreateTemplate(c *fiber.Ctx) error {
	var input TemplateInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "invalid request body")
	}
	u := user(c)
	tpl, err := CreateTemplateFromMappings(c.Context(), h.store, u.TenantID, input)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": tpl})
}

func (h *Handler) ApplyTemplate(c *fiber.Ctx) error {
	var body struct {
		Override bool `json:"override"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	u := user(c)
	result, err := ApplyTemplate(c.Context(), h.store, u.TenantID, c.Params("id"), body.Override)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

func (h *Handler) DeleteTemplate(c *fiber.Ctx) error {
	u := user(c)
	if err := DeleteTemplate(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- Statistics ---

func (h *Handler) ListStats(c *fiber.Ctx) error {
	u := user(c)
	stats, err := ListStats(c.Context(), h.store.DB, h.store.Dialect, u.TenantID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": stats})
}

// --- Conversion ---

func (h *Handler) ConvertLead(c *fiber.Ctx) error {
	var opts ConvertOptions
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&opts); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	u := user(c)
	opts.ConvertedBy = u.ID

	result, err := h.converter.Convert(c.Context(), u.TenantID, c.Params("id"), opts)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": result})
}

func (h *Handler) ConversionHistory(c *fiber.Ctx) error {
	u := user(c)
	history, err := ConversionHistory(c.Context(), h.store.DB, h.store.Dialect, u.TenantID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": history})
}
