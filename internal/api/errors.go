package api

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"schemakit/internal/engine"
	"schemakit/internal/schema"
	"schemakit/internal/store"
)

type apiError struct {
	Code    string              `json:"code"`
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Details []engine.FieldError `json:"details,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

type errorResponse struct {
	Error *apiError `json:"error"`
}

func unauthorized(msg string) *apiError {
	return &apiError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func forbidden(msg string) *apiError {
	return &apiError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func badRequest(msg string) *apiError {
	return &apiError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

// translate maps engine and schema errors onto HTTP responses. Anything it
// does not recognize stays an internal error.
func translate(err error) *apiError {
	var vErr *engine.ValidationError
	if errors.As(err, &vErr) {
		return &apiError{
			Code:    "VALIDATION_FAILED",
			Status:  422,
			Message: "Validation failed",
			Details: vErr.Details,
		}
	}

	var pErr *engine.PermissionError
	if errors.As(err, &pErr) {
		return &apiError{Code: "FORBIDDEN", Status: 403, Message: pErr.Error()}
	}

	var nfErr *engine.EntityNotFoundError
	if errors.As(err, &nfErr) {
		return &apiError{Code: "NOT_FOUND", Status: 404, Message: nfErr.Error()}
	}

	var lErr *schema.LoadError
	if errors.As(err, &lErr) {
		if strings.Contains(lErr.Reason, "not found") {
			return &apiError{Code: "UNKNOWN_ENTITY", Status: 404, Message: lErr.Error()}
		}
		return &apiError{Code: "SCHEMA_ERROR", Status: 500, Message: lErr.Error()}
	}

	var sErr *store.SchemaError
	if errors.As(err, &sErr) {
		return &apiError{Code: "SCHEMA_ERROR", Status: 500, Message: sErr.Error()}
	}

	var dbErr *engine.DatabaseError
	if errors.As(err, &dbErr) {
		return &apiError{Code: "DATABASE_ERROR", Status: 500, Message: "Database operation failed"}
	}

	return nil
}

// ErrorHandler is the Fiber app-level error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *apiError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(errorResponse{Error: appErr})
	}

	if translated := translate(err); translated != nil {
		if translated.Status >= 500 {
			log.Printf("ERROR: %v", err)
		}
		return c.Status(translated.Status).JSON(errorResponse{Error: translated})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(errorResponse{Error: &apiError{
		Code:    "INTERNAL",
		Status:  code,
		Message: "Internal server error",
	}})
}
