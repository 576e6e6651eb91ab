package backend

import (
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// The JSON schemas cover the structural shape of the POST payloads. The
// range checks that a static schema cannot express, such as the moving
// upper bound on the model year, happen in Go after coercion.

const userSchemaJSON = `{
	"$id": "carlog/adduser",
	"type": "object",
	"required": ["userid", "email", "email_verified"],
	"properties": {
		"userid": {"type": "string", "minLength": 1},
		"email": {"type": "string"},
		"email_verified": {"type": "boolean"}
	}
}`

const carSchemaJSON = `{
	"$id": "carlog/car",
	"type": "object",
	"required": ["name", "year", "make", "model", "miles"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 15},
		"year": {"type": ["integer", "string"]},
		"make": {"type": "string", "minLength": 1, "maxLength": 10},
		"model": {"type": "string", "minLength": 1, "maxLength": 10},
		"miles": {"type": ["number", "string"]}
	}
}`

const maintenanceSchemaJSON = `{
	"$id": "carlog/maintenance",
	"type": "object",
	"required": ["type", "cost", "gallons", "miles", "notes"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"cost": {"type": ["number", "string"]},
		"gallons": {"type": ["number", "string"]},
		"miles": {"type": ["number", "string"]},
		"notes": {"type": "string"}
	}
}`

var errValidation = errors.New("validation failed")

// numericValue coerces a JSON number or numeric string to float64.
func numericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

type userPayload struct {
	UserID        string `json:"userid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type carPayload struct {
	Name  string      `json:"name"`
	Year  interface{} `json:"year"`
	Make  string      `json:"make"`
	Model string      `json:"model"`
	Miles interface{} `json:"miles"`
}

// carFields are the validated descriptive fields of a car payload.
type carFields struct {
	Name  string
	Year  int
	Make  string
	Model string
	Miles float64
}

// validateCar checks shape and ranges of an addcar/editcar payload.
func (b *Backend) validateCar(body []byte) (carFields, error) {
	if err := b.validator.ValidateString(string(body), "carlog/car"); err != nil {
		return carFields{}, errValidation
	}
	var payload carPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return carFields{}, errValidation
	}
	year, ok := numericValue(payload.Year)
	if !ok || year != float64(int(year)) || year < 1900 || year > float64(time.Now().Year()+1) {
		return carFields{}, errValidation
	}
	miles, ok := numericValue(payload.Miles)
	if !ok || miles < 0 {
		return carFields{}, errValidation
	}
	return carFields{
		Name:  payload.Name,
		Year:  int(year),
		Make:  payload.Make,
		Model: payload.Model,
		Miles: miles,
	}, nil
}

type maintenancePayload struct {
	Type    string      `json:"type"`
	Cost    interface{} `json:"cost"`
	Gallons interface{} `json:"gallons"`
	Miles   interface{} `json:"miles"`
	Notes   string      `json:"notes"`
}

// maintenanceFields are the validated fields of an addmaintenance payload.
type maintenanceFields struct {
	ServiceType string
	Cost        float64
	Gallons     float64
	Miles       float64
	Notes       string
}

// validateMaintenance checks shape of an addmaintenance payload.
func (b *Backend) validateMaintenance(body []byte) (maintenanceFields, error) {
	if err := b.validator.ValidateString(string(body), "carlog/maintenance"); err != nil {
		return maintenanceFields{}, errValidation
	}
	var payload maintenancePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return maintenanceFields{}, errValidation
	}
	cost, okCost := numericValue(payload.Cost)
	gallons, okGallons := numericValue(payload.Gallons)
	miles, okMiles := numericValue(payload.Miles)
	if !okCost || !okGallons || !okMiles {
		return maintenanceFields{}, errValidation
	}
	return maintenanceFields{
		ServiceType: payload.Type,
		Cost:        cost,
		Gallons:     gallons,
		Miles:       miles,
		Notes:       payload.Notes,
	}, nil
}

// validateUser checks shape of an adduser payload.
func (b *Backend) validateUser(body []byte) (userPayload, error) {
	if err := b.validator.ValidateString(string(body), "carlog/adduser"); err != nil {
		return userPayload{}, errValidation
	}
	var payload userPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return userPayload{}, errValidation
	}
	return payload, nil
}
