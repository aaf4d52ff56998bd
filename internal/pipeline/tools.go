package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hubenschmidt/care-ai/gateway/internal/portal"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// Directory is the read-only portal surface the assistant may consult.
type Directory interface {
	FindDoctors(ctx context.Context, specialty, city string) ([]portal.Doctor, error)
	Availability(ctx context.Context, doctorID, date string) ([]portal.Slot, error)
}

const findDoctorsSchema = `{
	"type": "object",
	"properties": {
		"specialty": {"type": "string", "minLength": 1, "description": "Medical specialty, e.g. cardiology"},
		"city": {"type": "string", "description": "City to search in"}
	},
	"required": ["specialty"],
	"additionalProperties": false
}`

const checkAvailabilitySchema = `{
	"type": "object",
	"properties": {
		"doctor_id": {"type": "string", "minLength": 1},
		"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$", "description": "YYYY-MM-DD"}
	},
	"required": ["doctor_id"],
	"additionalProperties": false
}`

// NewToolbox builds the assistant's tools over dir.
func NewToolbox(dir Directory) (provider.Toolbox, error) {
	findDoctors, err := provider.NewTool("find_doctors",
		"Search the portal's doctor directory by specialty and optional city.",
		findDoctorsSchema,
		func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Specialty string `json:"specialty"`
				City      string `json:"city"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			docs, err := dir.FindDoctors(ctx, args.Specialty, args.City)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{"doctors": docs})
		})
	if err != nil {
		return nil, err
	}

	checkAvailability, err := provider.NewTool("check_availability",
		"List open appointment slots for a doctor, optionally on one date.",
		checkAvailabilitySchema,
		func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				DoctorID string `json:"doctor_id"`
				Date     string `json:"date"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", err
			}
			slots, err := dir.Availability(ctx, args.DoctorID, args.Date)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{"slots": slots})
		})
	if err != nil {
		return nil, err
	}
	return provider.Toolbox{findDoctors, checkAvailability}, nil
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}
