// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backend implements the carlog REST backend: user identities, cars,
graded car sharing, the maintenance ledger with its car-level aggregates,
and one image blob per car.

All durable state lives in postgres; permissions are re-derived from the
database on every request so that revocations take effect immediately.
*/
package backend

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/carlog/core/backend/kss"
	"github.com/relabs-tech/carlog/core/csql"
	"github.com/relabs-tech/carlog/core/logger"
	"github.com/relabs-tech/carlog/core/schema"
)

// Backend is the carlog rest backend
type Backend struct {
	db        *csql.DB
	router    *mux.Router
	kssDriver kss.Driver
	validator *schema.Validator
	publisher *eventPublisher
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// KssConfiguration selects the blob storage driver for car images.
	// This is optional; without a driver the image routes answer null.
	KssConfiguration kss.Configuration
	// KafkaBrokers enables publishing of mutation events from the
	// transactional outbox. This is optional.
	KafkaBrokers []string
}

// New realizes the actual backend. It creates the sql relations (if they
// do not exist) and adds the actual routes to the router.
func New(bb *Builder) *Backend {

	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	kssDriver, err := kss.NewDriver(bb.KssConfiguration)
	if err != nil {
		panic(err)
	}

	b := &Backend{
		db:        bb.DB,
		router:    bb.Router,
		kssDriver: kssDriver,
		validator: schema.MustNewValidator(userSchemaJSON, carSchemaJSON, maintenanceSchemaJSON),
	}

	b.createTables()
	b.handleEventOutbox(bb.KafkaBrokers)
	b.handleRoutes(bb.Router)
	return b
}

// Close stops the background event publisher, if any.
func (b *Backend) Close() {
	if b.publisher != nil {
		b.publisher.stop()
	}
}

func (b *Backend) createTables() {
	schema := b.db.Schema

	createQuery := fmt.Sprintf(`
CREATE table IF NOT EXISTS %[1]s.users
(user_id varchar NOT NULL PRIMARY KEY,
email varchar NOT NULL DEFAULT '',
email_verified boolean NOT NULL DEFAULT false,
current_car integer NOT NULL DEFAULT 0
);
CREATE table IF NOT EXISTS %[1]s.cars
(car_id serial PRIMARY KEY,
user_id varchar NOT NULL,
name varchar NOT NULL,
year integer NOT NULL,
make varchar NOT NULL,
model varchar NOT NULL,
miles double precision NOT NULL DEFAULT 0,
total_costs double precision NOT NULL DEFAULT 0,
total_gallons double precision NOT NULL DEFAULT 0,
total_fuel_costs double precision NOT NULL DEFAULT 0,
oil_change_time bigint NOT NULL DEFAULT 0,
oil_change_miles double precision NOT NULL DEFAULT 0,
tire_rotation_time bigint NOT NULL DEFAULT 0,
tire_rotation_miles double precision NOT NULL DEFAULT 0,
air_filter_time bigint NOT NULL DEFAULT 0,
air_filter_miles double precision NOT NULL DEFAULT 0,
inspection_time bigint NOT NULL DEFAULT 0,
registration_time bigint NOT NULL DEFAULT 0
);
CREATE index IF NOT EXISTS cars_user_id ON %[1]s.cars(user_id);
CREATE table IF NOT EXISTS %[1]s.access
(car_id integer NOT NULL REFERENCES %[1]s.cars ON DELETE CASCADE,
user_id varchar NOT NULL,
permissions varchar NOT NULL,
PRIMARY KEY(car_id, user_id)
);
CREATE index IF NOT EXISTS access_user_id ON %[1]s.access(user_id);
CREATE table IF NOT EXISTS %[1]s.maintenance
(maintenance_id serial PRIMARY KEY,
user_id varchar NOT NULL,
car_id integer NOT NULL REFERENCES %[1]s.cars ON DELETE CASCADE,
service_type varchar NOT NULL,
miles double precision NOT NULL DEFAULT 0,
cost double precision NOT NULL DEFAULT 0,
gallons double precision NOT NULL DEFAULT 0,
notes varchar NOT NULL DEFAULT '',
timestamp bigint NOT NULL DEFAULT 0
);
CREATE index IF NOT EXISTS maintenance_car_id ON %[1]s.maintenance(car_id);
`, schema)

	_, err := b.db.Exec(createQuery)
	if err != nil {
		panic(err)
	}
}

func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("backend: handle routes")

	router.HandleFunc("/adduser", b.addUserWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/getuser", b.getUserWithAuth).Methods(http.MethodGet)

	router.HandleFunc("/addcar", b.addCarWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/getcars", b.getCarsWithAuth).Methods(http.MethodGet)
	router.HandleFunc("/deletecar", b.deleteCarWithAuth).Methods(http.MethodGet)
	router.HandleFunc("/editcar", b.editCarWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/getcurrentcar", b.getCurrentCarWithAuth).Methods(http.MethodGet)
	router.HandleFunc("/setcurrentcar", b.setCurrentCarWithAuth).Methods(http.MethodGet)
	router.HandleFunc("/sharecar", b.shareCarWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/removemycaraccess", b.removeMyCarAccessWithAuth).Methods(http.MethodGet)

	router.HandleFunc("/addmaintenance", b.addMaintenanceWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/getmaintenancelog", b.getMaintenanceLogWithAuth).Methods(http.MethodGet)
	router.HandleFunc("/deletemaintenancelog", b.deleteMaintenanceLogWithAuth).Methods(http.MethodGet)

	router.HandleFunc("/uploadCarImage", b.uploadCarImageWithAuth).Methods(http.MethodPost)
	router.HandleFunc("/downloadCarImage", b.downloadCarImageWithAuth).Methods(http.MethodGet)
}
