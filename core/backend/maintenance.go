// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/relabs-tech/carlog/core/access"
	"github.com/relabs-tech/carlog/core/csql"
	"github.com/relabs-tech/carlog/core/logger"
)

// serviceFuel is the one service type that feeds the fuel aggregates.
const serviceFuel = "Fuel"

// trackedKind describes a service type with dedicated "last performed"
// marker columns on the car. Inspection and registration track time only.
type trackedKind struct {
	timeColumn  string
	milesColumn string
}

var trackedKinds = map[string]trackedKind{
	"Oil Change":    {"oil_change_time", "oil_change_miles"},
	"Tire Rotation": {"tire_rotation_time", "tire_rotation_miles"},
	"Air Filter":    {"air_filter_time", "air_filter_miles"},
	"Inspection":    {"inspection_time", ""},
	"Registration":  {"registration_time", ""},
}

// pageLength is the fixed page size of the maintenance log.
const pageLength = 20

// appendEntry inserts a ledger entry and keeps the car's aggregates
// consistent, all in one transaction:
//
//	miles          <- the entry's odometer reading, literally. The ledger
//	                  reflects the newest entry even when its reading is
//	                  lower than the previous one; monotonicity is the
//	                  caller's business.
//	total_costs    <- += cost, always
//	fuel rollups   <- += gallons / cost, for Fuel entries
//	markers        <- time (and miles where applicable) for tracked kinds
//
// The aggregate arithmetic runs in-place in SQL so that concurrent
// appends on the same car serialize on the car row.
func (b *Backend) appendEntry(ctx context.Context, car *CarWithPermissions, fields maintenanceFields) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var maintenanceID int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.maintenance(user_id, car_id, service_type, miles, cost, gallons, notes, timestamp)
VALUES($1, $2, $3, $4, $5, $6, $7, $8) RETURNING maintenance_id;`, b.db.Schema),
		car.UserID, car.CarID, fields.ServiceType, fields.Miles, fields.Cost, fields.Gallons, fields.Notes, now,
	).Scan(&maintenanceID)
	if err != nil {
		return err
	}

	if fields.ServiceType == serviceFuel {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.cars SET miles = $2, total_costs = total_costs + $3,
total_gallons = total_gallons + $4, total_fuel_costs = total_fuel_costs + $3 WHERE car_id = $1;`, b.db.Schema),
			car.CarID, fields.Miles, fields.Cost, fields.Gallons)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.cars SET miles = $2, total_costs = total_costs + $3 WHERE car_id = $1;`, b.db.Schema),
			car.CarID, fields.Miles, fields.Cost)
	}
	if err != nil {
		return err
	}

	if kind, ok := trackedKinds[fields.ServiceType]; ok {
		if kind.milesColumn != "" {
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s.cars SET %s = $2, %s = $3 WHERE car_id = $1;`,
					b.db.Schema, kind.timeColumn, kind.milesColumn),
				car.CarID, now, fields.Miles)
		} else {
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s.cars SET %s = $2 WHERE car_id = $1;`,
					b.db.Schema, kind.timeColumn),
				car.CarID, now)
		}
		if err != nil {
			return err
		}
	}

	if err = b.raiseEvent(ctx, tx, "maintenance.appended", "maintenance",
		strconv.Itoa(maintenanceID), fields); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteEntry removes a ledger entry and recomputes the car's aggregates
// from the remaining history. Unlike append, the odometer reading is
// recomputed as the maximum over the remaining entries; when the ledger
// empties, the car's stored miles stay untouched. For a tracked kind the
// markers fall back to the most recently inserted remaining entry of the
// same kind, or zero out when none remains.
//
// Returns the deleted entry, or nil if there is no such entry for the car.
func (b *Backend) deleteEntry(ctx context.Context, carID, maintenanceID int) (*MaintenanceEntry, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var deleted MaintenanceEntry
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`DELETE FROM %s.maintenance WHERE maintenance_id = $1 AND car_id = $2 RETURNING %s;`,
			b.db.Schema, maintenanceColumns),
		maintenanceID, carID,
	).Scan(maintenanceScanValues(&deleted)...)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if deleted.ServiceType == serviceFuel {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.cars SET
miles = COALESCE((SELECT max(miles) FROM %s.maintenance WHERE car_id = $1), miles),
total_costs = total_costs - $2,
total_gallons = total_gallons - $3,
total_fuel_costs = total_fuel_costs - $2
WHERE car_id = $1;`, b.db.Schema, b.db.Schema),
			carID, deleted.Cost, deleted.Gallons)
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.cars SET
miles = COALESCE((SELECT max(miles) FROM %s.maintenance WHERE car_id = $1), miles),
total_costs = total_costs - $2
WHERE car_id = $1;`, b.db.Schema, b.db.Schema),
			carID, deleted.Cost)
	}
	if err != nil {
		return nil, err
	}

	if kind, ok := trackedKinds[deleted.ServiceType]; ok {
		var lastTime int64
		var lastMiles float64
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT timestamp, miles FROM %s.maintenance
WHERE car_id = $1 AND service_type = $2 ORDER BY maintenance_id DESC LIMIT 1;`, b.db.Schema),
			carID, deleted.ServiceType).Scan(&lastTime, &lastMiles)
		if err == csql.ErrNoRows {
			lastTime, lastMiles = 0, 0
			err = nil
		}
		if err != nil {
			return nil, err
		}
		if kind.milesColumn != "" {
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s.cars SET %s = $2, %s = $3 WHERE car_id = $1;`,
					b.db.Schema, kind.timeColumn, kind.milesColumn),
				carID, lastTime, lastMiles)
		} else {
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s.cars SET %s = $2 WHERE car_id = $1;`,
					b.db.Schema, kind.timeColumn),
				carID, lastTime)
		}
		if err != nil {
			return nil, err
		}
	}

	if err = b.raiseEvent(ctx, tx, "maintenance.deleted", "maintenance",
		strconv.Itoa(maintenanceID), deleted); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &deleted, nil
}

// addMaintenanceWithAuth appends an entry to the ledger of a car the
// caller may edit.
func (b *Backend) addMaintenanceWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := access.IdentityFromContext(ctx)
	if err != nil {
		respondNull(w, r)
		return
	}
	carID, ok := carIDFromQuery(r)
	if !ok {
		respondNull(w, r)
		return
	}
	car, err := b.requireCarEdit(ctx, carID, userID)
	if err != nil {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondNull(w, r)
		return
	}
	fields, err := b.validateMaintenance(body)
	if err != nil {
		respondNull(w, r)
		return
	}

	if err := b.appendEntry(ctx, &car, fields); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2350: cannot append maintenance entry")
		http.Error(w, "Error 2350", http.StatusInternalServerError)
		return
	}
	respondNull(w, r)
}

// maintenanceLog is the paged response of getmaintenancelog.
type maintenanceLog struct {
	Data       []MaintenanceEntry `json:"data"`
	TotalPages *int               `json:"totalPages,omitempty"`
	Page       *int               `json:"page,omitempty"`
}

// getMaintenanceLogWithAuth returns the ledger of the caller's current
// car, newest first. An optional filter restricts to one service type;
// statistics=1 returns the full history and ignores paging.
func (b *Backend) getMaintenanceLogWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := access.IdentityFromContext(ctx)
	if err != nil {
		respondNull(w, r)
		return
	}
	user, err := b.requireUser(ctx, userID)
	if err != nil {
		respondNull(w, r)
		return
	}
	if user.CurrentCar == 0 {
		respondNull(w, r)
		return
	}
	// view access on the current car is re-derived here so that a
	// revoked grant cuts off the log immediately
	if _, err := b.requireCarView(ctx, user.CurrentCar, userID); err != nil {
		respondNull(w, r)
		return
	}

	urlQuery := r.URL.Query()
	var rows *sql.Rows
	if filter := urlQuery.Get("filter"); filter != "" {
		rows, err = b.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s.maintenance WHERE car_id = $1 AND service_type = $2 ORDER BY maintenance_id;`,
				maintenanceColumns, b.db.Schema),
			user.CurrentCar, filter)
	} else {
		rows, err = b.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s.maintenance WHERE car_id = $1 ORDER BY maintenance_id;`,
				maintenanceColumns, b.db.Schema),
			user.CurrentCar)
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2351: cannot query maintenance log")
		http.Error(w, "Error 2351", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	entries := []MaintenanceEntry{}
	for rows.Next() {
		var entry MaintenanceEntry
		if err := rows.Scan(maintenanceScanValues(&entry)...); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 2352: cannot scan maintenance entry")
			http.Error(w, "Error 2352", http.StatusInternalServerError)
			return
		}
		entries = append(entries, entry)
	}

	// statistics consumers get the full history in insertion order
	if urlQuery.Get("statistics") == "1" {
		respondJSON(w, r, maintenanceLog{Data: entries})
		return
	}

	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	totalPages := len(entries) / pageLength
	if len(entries)%pageLength != 0 {
		totalPages++
	}
	page := 1
	if pageParameter := urlQuery.Get("page"); pageParameter != "" {
		page, err = strconv.Atoi(pageParameter)
		// out of range pages clamp to the first page
		if err != nil || page < 1 || page > totalPages {
			page = 1
		}
	}
	start := pageLength * (page - 1)
	end := pageLength * page
	if start > len(entries) {
		start = len(entries)
	}
	if end > len(entries) {
		end = len(entries)
	}

	respondJSON(w, r, maintenanceLog{
		Data:       entries[start:end],
		TotalPages: &totalPages,
		Page:       &page,
	})
}

// deleteMaintenanceLogWithAuth deletes an entry from the ledger of the
// caller's current car. Edit permission is re-checked here independently
// of any view access the caller may have.
func (b *Backend) deleteMaintenanceLogWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := access.IdentityFromContext(ctx)
	if err != nil {
		respondNull(w, r)
		return
	}
	user, err := b.requireUser(ctx, userID)
	if err != nil {
		respondNull(w, r)
		return
	}
	maintenanceID, err := strconv.Atoi(r.URL.Query().Get("maintenance_id"))
	if err != nil || maintenanceID < 1 {
		respondNull(w, r)
		return
	}
	if user.CurrentCar == 0 {
		respondNull(w, r)
		return
	}
	if _, err := b.requireCarEdit(ctx, user.CurrentCar, userID); err != nil {
		respondNull(w, r)
		return
	}

	deleted, err := b.deleteEntry(ctx, user.CurrentCar, maintenanceID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2353: cannot delete maintenance entry")
		http.Error(w, "Error 2353", http.StatusInternalServerError)
		return
	}
	if deleted != nil {
		logger.FromContext(ctx).Infoln("deleted maintenance entry", deleted.MaintenanceID,
			"for car", deleted.CarID)
	}
	respondNull(w, r)
}
