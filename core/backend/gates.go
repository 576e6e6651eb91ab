package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/carlog/core/csql"
	"github.com/relabs-tech/carlog/core/logger"
)

// The authorization gates below are composable resolver functions. Each
// one re-derives the caller's rights from current table state; nothing is
// cached across requests, so a revoked grant is effective immediately.
//
// All failures collapse into errDenied. Callers answer the uniform JSON
// null so that a denied car is indistinguishable from a missing one.

// errDenied means the resource is absent or the caller has no right to it.
var errDenied = errors.New("not found or denied")

// requireUser resolves the authenticated identity to a User record.
func (b *Backend) requireUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT user_id, email, email_verified, current_car FROM %s.users WHERE user_id=$1;`, b.db.Schema),
		userID).Scan(&user.UserID, &user.Email, &user.EmailVerified, &user.CurrentCar)
	if err == csql.ErrNoRows {
		return User{}, errDenied
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2310: cannot query user")
		return User{}, err
	}
	return user, nil
}

// requireCarOwner succeeds iff the car exists and userID created it.
func (b *Backend) requireCarOwner(ctx context.Context, carID int, userID string) (Car, error) {
	var car Car
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s.cars WHERE car_id=$1 AND user_id=$2;`, carColumns, b.db.Schema),
		carID, userID).Scan(carScanValues(&car)...)
	if err == csql.ErrNoRows {
		return Car{}, errDenied
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2311: cannot query car owner")
		return Car{}, err
	}
	return car, nil
}

// requireCarEdit succeeds iff userID owns the car or holds an "Edit"
// grant for it. The owner resolves to permission "Edit".
func (b *Backend) requireCarEdit(ctx context.Context, carID int, userID string) (CarWithPermissions, error) {
	return b.requireCarPermission(ctx, carID, userID, permissionEdit)
}

// requireCarView succeeds iff userID owns the car or holds any grant.
func (b *Backend) requireCarView(ctx context.Context, carID int, userID string) (CarWithPermissions, error) {
	return b.requireCarPermission(ctx, carID, userID, permissionView)
}

func (b *Backend) requireCarPermission(ctx context.Context, carID int, userID string, required string) (CarWithPermissions, error) {
	var car CarWithPermissions
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s.cars WHERE car_id=$1;`, carColumns, b.db.Schema),
		carID).Scan(carScanValues(&car.Car)...)
	if err == csql.ErrNoRows {
		return CarWithPermissions{}, errDenied
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2312: cannot query car")
		return CarWithPermissions{}, err
	}

	if car.UserID == userID {
		car.Permissions = permissionEdit
		return car, nil
	}

	var permissions string
	err = b.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT permissions FROM %s.access WHERE car_id=$1 AND user_id=$2;`, b.db.Schema),
		carID, userID).Scan(&permissions)
	if err == csql.ErrNoRows {
		return CarWithPermissions{}, errDenied
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2313: cannot query access")
		return CarWithPermissions{}, err
	}

	if required == permissionEdit && permissions != permissionEdit {
		return CarWithPermissions{}, errDenied
	}
	car.Permissions = permissions
	return car, nil
}
