package auth

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"crm-backend/internal/engine"
	"crm-backend/internal/metadata"
	"crm-backend/internal/store"
)

// Handler serves the login endpoint.
type Handler struct {
	store  *store.Store
	secret string
}

func NewHandler(s *store.Store, secret string) *Handler {
	return &Handler{store: s, secret: secret}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	d := h.store.Dialect
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(c.Context(), h.store.DB, fmt.Sprintf(
		`SELECT id, tenant_id, password_hash, role FROM users WHERE email = %s AND active = %s`,
		pb.Add(req.Email), pb.Add(true)),
		pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return unauthorized(c, "invalid credentials")
		}
		return fiber.ErrInternalServerError
	}

	hash, _ := row["password_hash"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return unauthorized(c, "invalid credentials")
	}

	user := &metadata.UserContext{
		ID:       asString(row["id"]),
		TenantID: asString(row["tenant_id"]),
		Roles:    []string{asString(row["role"])},
	}
	token, err := GenerateAccessToken(h.secret, user)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"access_token": token,
		"user":         user,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(engine.ErrorResponse{
		Error: engine.NewAppError("BAD_REQUEST", fiber.StatusBadRequest, msg),
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
