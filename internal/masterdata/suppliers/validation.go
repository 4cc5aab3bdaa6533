package suppliers

import (
	"strings"

	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return httpx.FieldErrors{"name": "required"}
	}
	return httpx.Validate(in)
}

func validateUpdate(in UpdateInput) error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return httpx.FieldErrors{"name": "required"}
	}
	return httpx.Validate(in)
}
