// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/carlog/core/access"
	"github.com/relabs-tech/carlog/core/csql"
	"github.com/relabs-tech/carlog/core/logger"
)

// carIDFromQuery parses the car_id query parameter. A missing or
// malformed id simply fails the gate.
func carIDFromQuery(r *http.Request) (int, bool) {
	carID, err := strconv.Atoi(r.URL.Query().Get("car_id"))
	if err != nil || carID < 1 {
		return 0, false
	}
	return carID, true
}

// addCarWithAuth registers a new car, makes it the owner's current car
// and gives the owner an explicit Edit grant. The grant row exists for
// uniform permission listing; ownership itself never depends on it.
func (b *Backend) addCarWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)

	userID, err := access.IdentityFromContext(ctx)
	if err != nil {
		respondNull(w, r)
		return
	}
	if _, err := b.requireUser(ctx, userID); err != nil {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondNull(w, r)
		return
	}
	fields, err := b.validateCar(body)
	if err != nil {
		respondNull(w, r)
		return
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2330: cannot begin transaction")
		http.Error(w, "Error 2330", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	var car Car
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.cars(user_id, name, year, make, model, miles)
VALUES($1, $2, $3, $4, $5, $6) RETURNING %s;`, b.db.Schema, carColumns),
		userID, fields.Name, fields.Year, fields.Make, fields.Model, fields.Miles,
	).Scan(carScanValues(&car)...)
	if err == nil {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.users SET current_car = $1 WHERE user_id = $2;`, b.db.Schema),
			car.CarID, userID)
	}
	if err == nil {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.access VALUES($1, $2, $3);`, b.db.Schema),
			car.CarID, userID, permissionEdit)
	}
	if err == nil {
		err = b.raiseEvent(ctx, tx, "car.created", "car", strconv.Itoa(car.CarID), car)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2331: cannot create car")
		http.Error(w, "Error 2331", http.StatusInternalServerError)
		return
	}

	rlog.Infoln("created car", car.CarID, "for user", userID)
	respondJSON(w, r, car)
}

// getCarsWithAuth lists every car the caller has a grant for, annotated
// with the permission level, together with the current car pointer.
func (b *Backend) getCarsWithAuth(w http.ResponseWriter, r *http.Request) {
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

	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, access.permissions FROM %s.cars
INNER JOIN %s.access ON cars.car_id = access.car_id
WHERE access.user_id = $1 ORDER BY cars.car_id;`,
			prefixedCarColumns("cars"), b.db.Schema, b.db.Schema),
		userID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2332: cannot query cars")
		http.Error(w, "Error 2332", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	cars := []CarWithPermissions{}
	for rows.Next() {
		var car CarWithPermissions
		values := append(carScanValues(&car.Car), &car.Permissions)
		if err := rows.Scan(values...); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 2333: cannot scan car")
			http.Error(w, "Error 2333", http.StatusInternalServerError)
			return
		}
		cars = append(cars, car)
	}

	respondJSON(w, r, map[string]interface{}{
		"cars":        cars,
		"current_car": user.CurrentCar,
	})
}

// deleteCarWithAuth deletes a car. Ownership is enforced by scoping the
// delete to the caller; grants, ledger entries and the image blob go with
// the car. If the deleted car was the caller's current car, the pointer
// resets to 0.
func (b *Backend) deleteCarWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)

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
	carID, ok := carIDFromQuery(r)
	if !ok {
		respondNull(w, r)
		return
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2334: cannot begin transaction")
		http.Error(w, "Error 2334", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s.cars WHERE user_id = $1 AND car_id = $2;`, b.db.Schema),
		userID, carID)
	var deleted int64
	if err == nil {
		deleted, _ = result.RowsAffected()
	}
	if err == nil && deleted > 0 && carID == user.CurrentCar {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s.users SET current_car = 0 WHERE user_id = $1;`, b.db.Schema),
			userID)
	}
	if err == nil && deleted > 0 {
		err = b.raiseEvent(ctx, tx, "car.deleted", "car", strconv.Itoa(carID), nil)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2335: cannot delete car")
		http.Error(w, "Error 2335", http.StatusInternalServerError)
		return
	}

	if deleted > 0 && b.kssDriver != nil {
		if err := b.kssDriver.Delete(carImageKey(carID)); err != nil {
			rlog.WithError(err).Warningln("cannot delete image for car", carID)
		}
	}

	respondNull(w, r)
}

// editCarWithAuth updates the descriptive fields of a car. This bypasses
// the maintenance ledger: editing miles here touches no aggregate.
func (b *Backend) editCarWithAuth(w http.ResponseWriter, r *http.Request) {
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
	if _, err := b.requireCarEdit(ctx, carID, userID); err != nil {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondNull(w, r)
		return
	}
	fields, err := b.validateCar(body)
	if err != nil {
		respondNull(w, r)
		return
	}

	var car Car
	err = b.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s.cars SET name = $2, year = $3, make = $4, model = $5, miles = $6
WHERE car_id = $1 RETURNING %s;`, b.db.Schema, carColumns),
		carID, fields.Name, fields.Year, fields.Make, fields.Model, fields.Miles,
	).Scan(carScanValues(&car)...)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2336: cannot edit car")
		http.Error(w, "Error 2336", http.StatusInternalServerError)
		return
	}

	respondJSON(w, r, car)
}

// getCurrentCarWithAuth returns the caller's current car with the
// caller's permission attached. A stale pointer to a car the caller can
// no longer see self-heals to null.
func (b *Backend) getCurrentCarWithAuth(w http.ResponseWriter, r *http.Request) {
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

	car, err := b.requireCarView(ctx, user.CurrentCar, userID)
	if err != nil {
		respondNull(w, r)
		return
	}
	respondJSON(w, r, car)
}

// setCurrentCarWithAuth updates the caller's current car pointer. Any
// grant level suffices.
func (b *Backend) setCurrentCarWithAuth(w http.ResponseWriter, r *http.Request) {
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
	if _, err := b.requireCarView(ctx, carID, userID); err != nil {
		respondNull(w, r)
		return
	}

	_, err = b.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s.users SET current_car = $1 WHERE user_id = $2;`, b.db.Schema),
		carID, userID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2337: cannot set current car")
		http.Error(w, "Error 2337", http.StatusInternalServerError)
		return
	}
	respondNull(w, r)
}

type sharePayload struct {
	Email       string `json:"email"`
	Permissions string `json:"permissions"`
}

type shareResult struct {
	Success bool `json:"success"`
}

// shareCarWithAuth grants, updates or revokes another user's access to a
// car. Only the owner may manage sharing. Malformed input, an unknown
// level or an unknown email answer success false; revoking a grant that
// does not exist is an idempotent success.
func (b *Backend) shareCarWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)

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
	if _, err := b.requireCarOwner(ctx, carID, userID); err != nil {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondNull(w, r)
		return
	}
	var payload sharePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondJSON(w, r, shareResult{Success: false})
		return
	}
	if payload.Email == "" ||
		(payload.Permissions != permissionView &&
			payload.Permissions != permissionEdit &&
			payload.Permissions != permissionRemove) {
		respondJSON(w, r, shareResult{Success: false})
		return
	}

	var targetID string
	err = b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT user_id FROM %s.users WHERE email = $1;`, b.db.Schema),
		payload.Email).Scan(&targetID)
	if err == csql.ErrNoRows {
		respondJSON(w, r, shareResult{Success: false})
		return
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2338: cannot resolve share target")
		http.Error(w, "Error 2338", http.StatusInternalServerError)
		return
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2339: cannot begin transaction")
		http.Error(w, "Error 2339", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if payload.Permissions == permissionRemove {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s.access WHERE car_id = $1 AND user_id = $2;`, b.db.Schema),
			carID, targetID)
		if err == nil {
			err = b.raiseEvent(ctx, tx, "access.revoked", "access", strconv.Itoa(carID), nil)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.access VALUES($1, $2, $3)
ON CONFLICT (car_id, user_id) DO UPDATE SET permissions = $3;`, b.db.Schema),
			carID, targetID, payload.Permissions)
		if err == nil {
			err = b.raiseEvent(ctx, tx, "access.granted", "access", strconv.Itoa(carID), payload)
		}
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2340: cannot update access")
		http.Error(w, "Error 2340", http.StatusInternalServerError)
		return
	}

	respondJSON(w, r, shareResult{Success: true})
}

// removeMyCarAccessWithAuth lets a non-owner revoke their own grant. The
// owner's implicit access is not a grant row and cannot be revoked here.
func (b *Backend) removeMyCarAccessWithAuth(w http.ResponseWriter, r *http.Request) {
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
	car, err := b.requireCarView(ctx, carID, userID)
	if err != nil {
		respondNull(w, r)
		return
	}
	if car.UserID == userID { // owners keep their access
		respondNull(w, r)
		return
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2341: cannot begin transaction")
		http.Error(w, "Error 2341", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s.access WHERE car_id = $1 AND user_id = $2;`, b.db.Schema),
		carID, userID)
	if err == nil {
		err = b.raiseEvent(ctx, tx, "access.revoked", "access", strconv.Itoa(carID), nil)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2342: cannot revoke own access")
		http.Error(w, "Error 2342", http.StatusInternalServerError)
		return
	}

	respondNull(w, r)
}
