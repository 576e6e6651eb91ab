package backend

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/carlog/core/logger"
)

// The three permission levels a grant can be set to. "Remove Access" is
// only ever a requested level in sharing calls, it is never stored.
const (
	permissionEdit   = "Edit"
	permissionView   = "View"
	permissionRemove = "Remove Access"
)

// User is a carlog identity. It is keyed by the stable user identifier of
// the external authentication provider. CurrentCar 0 means no car selected.
type User struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	CurrentCar    int    `json:"current_car"`
}

// Car is a registered vehicle including its maintenance aggregates. The
// marker times are epoch milliseconds, 0 means never.
type Car struct {
	CarID             int     `json:"car_id"`
	UserID            string  `json:"user_id"`
	Name              string  `json:"name"`
	Year              int     `json:"year"`
	Make              string  `json:"make"`
	Model             string  `json:"model"`
	Miles             float64 `json:"miles"`
	TotalCosts        float64 `json:"total_costs"`
	TotalGallons      float64 `json:"total_gallons"`
	TotalFuelCosts    float64 `json:"total_fuel_costs"`
	OilChangeTime     int64   `json:"oil_change_time"`
	OilChangeMiles    float64 `json:"oil_change_miles"`
	TireRotationTime  int64   `json:"tire_rotation_time"`
	TireRotationMiles float64 `json:"tire_rotation_miles"`
	AirFilterTime     int64   `json:"air_filter_time"`
	AirFilterMiles    float64 `json:"air_filter_miles"`
	InspectionTime    int64   `json:"inspection_time"`
	RegistrationTime  int64   `json:"registration_time"`
}

// CarWithPermissions is a car annotated with the requesting user's
// effective permission level. The owner always resolves to "Edit".
type CarWithPermissions struct {
	Car
	Permissions string `json:"permissions"`
}

// MaintenanceEntry is one row of a car's maintenance ledger. Entries are
// immutable once created except for deletion; ascending maintenance id is
// insertion order. Timestamp is epoch milliseconds.
type MaintenanceEntry struct {
	MaintenanceID int     `json:"maintenance_id"`
	UserID        string  `json:"user_id"`
	CarID         int     `json:"car_id"`
	ServiceType   string  `json:"service_type"`
	Miles         float64 `json:"miles"`
	Cost          float64 `json:"cost"`
	Gallons       float64 `json:"gallons"`
	Notes         string  `json:"notes"`
	Timestamp     int64   `json:"timestamp"`
}

// carColumns is the scan order used by all car queries.
const carColumns = `car_id, user_id, name, year, make, model, miles, ` +
	`total_costs, total_gallons, total_fuel_costs, ` +
	`oil_change_time, oil_change_miles, tire_rotation_time, tire_rotation_miles, ` +
	`air_filter_time, air_filter_miles, inspection_time, registration_time`

func carScanValues(car *Car) []interface{} {
	return []interface{}{
		&car.CarID, &car.UserID, &car.Name, &car.Year, &car.Make, &car.Model, &car.Miles,
		&car.TotalCosts, &car.TotalGallons, &car.TotalFuelCosts,
		&car.OilChangeTime, &car.OilChangeMiles, &car.TireRotationTime, &car.TireRotationMiles,
		&car.AirFilterTime, &car.AirFilterMiles, &car.InspectionTime, &car.RegistrationTime,
	}
}

// prefixedCarColumns qualifies the car columns with a table name, for
// queries that join cars with access.
func prefixedCarColumns(table string) string {
	columns := strings.Split(carColumns, ", ")
	for i := range columns {
		columns[i] = table + "." + columns[i]
	}
	return strings.Join(columns, ", ")
}

const maintenanceColumns = `maintenance_id, user_id, car_id, service_type, miles, cost, gallons, notes, timestamp`

func maintenanceScanValues(e *MaintenanceEntry) []interface{} {
	return []interface{}{
		&e.MaintenanceID, &e.UserID, &e.CarID, &e.ServiceType,
		&e.Miles, &e.Cost, &e.Gallons, &e.Notes, &e.Timestamp,
	}
}

// respondJSON writes the object as JSON. A nil object becomes the JSON
// null body that stands for "denied or not found" throughout this API.
func respondJSON(w http.ResponseWriter, r *http.Request, object interface{}) {
	jsonData, err := json.MarshalWithOption(object, json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error 2300: cannot marshal response")
		http.Error(w, "Error 2300", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

// respondNull writes the uniform denied/not-found response. A denied
// request is indistinguishable from a missing resource.
func respondNull(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, nil)
}
