package backend

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/relabs-tech/carlog/core/client"
)

type carList struct {
	Cars       []CarWithPermissions `json:"cars"`
	CurrentCar int                  `json:"current_car"`
}

func TestCarLifecycle(t *testing.T) {
	cl := clientFor(t, "auth0|car-owner", "car-owner@example.com")

	car := mustAddCar(t, cl, "Daily")
	if car.Miles != 1000 || car.Year != 2020 {
		t.Fatal("unexpected car:", asJSON(car))
	}

	// the new car became the current car
	list := carList{}
	if _, err := cl.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 1 || list.CurrentCar != car.CarID {
		t.Fatal("unexpected car list:", asJSON(list))
	}
	if list.Cars[0].Permissions != "Edit" {
		t.Fatal("owner should hold Edit:", asJSON(list.Cars[0]))
	}

	current := CarWithPermissions{}
	if _, err := cl.RawGet("/getcurrentcar", &current); err != nil {
		t.Fatal(err)
	}
	if current.CarID != car.CarID || current.Permissions != "Edit" {
		t.Fatal("unexpected current car:", asJSON(current))
	}

	// edit replaces the descriptive fields without touching aggregates
	edited := Car{}
	if _, err := cl.RawPost("/editcar?car_id="+strconv.Itoa(car.CarID), map[string]interface{}{
		"name":  "Weekend",
		"year":  2021,
		"make":  "Honda",
		"model": "Civic",
		"miles": 500,
	}, &edited); err != nil {
		t.Fatal(err)
	}
	if edited.Name != "Weekend" || edited.Miles != 500 || edited.TotalCosts != 0 {
		t.Fatal("unexpected edited car:", asJSON(edited))
	}

	getNull(t, cl, "/deletecar?car_id="+strconv.Itoa(car.CarID))

	// the current car pointer was reset along with the car
	getNull(t, cl, "/getcurrentcar")
	if _, err := cl.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 0 || list.CurrentCar != 0 {
		t.Fatal("car not deleted:", asJSON(list))
	}
}

func TestCarValidation(t *testing.T) {
	cl := clientFor(t, "auth0|car-validation", "car-validation@example.com")

	invalid := []map[string]interface{}{
		{"year": 2020, "make": "Toyota", "model": "Corolla", "miles": 0},                           // no name
		{"name": "Car", "year": 1899, "make": "Toyota", "model": "Corolla", "miles": 0},            // year too old
		{"name": "Car", "year": 2098, "make": "Toyota", "model": "Corolla", "miles": 0},            // year in the future
		{"name": "Car", "year": 2020, "make": "Toyota", "model": "Corolla", "miles": -1},           // negative miles
		{"name": "Car", "year": "twenty", "make": "Toyota", "model": "Corolla", "miles": 0},        // year not numeric
		{"name": "A car with a very long name", "year": 2020, "make": "T", "model": "C", "miles": 0},
	}
	for _, payload := range invalid {
		postNull(t, cl, "/addcar", payload)
	}

	// numeric strings coerce
	car := Car{}
	if _, err := cl.RawPost("/addcar", map[string]interface{}{
		"name":  "Coerced",
		"year":  "2019",
		"make":  "Toyota",
		"model": "Corolla",
		"miles": "12000.5",
	}, &car); err != nil {
		t.Fatal(err)
	}
	if car.Year != 2019 || car.Miles != 12000.5 {
		t.Fatal("coercion failed:", asJSON(car))
	}
}

func TestCarRequiresUserRecord(t *testing.T) {
	// authenticated identity without an adduser call
	cl := testService.client.WithIdentity("auth0|car-no-record")
	postNull(t, cl, "/addcar", map[string]interface{}{
		"name":  "Ghost",
		"year":  2020,
		"make":  "Toyota",
		"model": "Corolla",
		"miles": 0,
	})
}

func TestCarSharing(t *testing.T) {
	owner := clientFor(t, "auth0|share-owner", "share-owner@example.com")
	viewer := clientFor(t, "auth0|share-viewer", "share-viewer@example.com")
	editor := clientFor(t, "auth0|share-editor", "share-editor@example.com")

	car := mustAddCar(t, owner, "Shared")
	carQuery := "?car_id=" + strconv.Itoa(car.CarID)

	share := func(cl client.Client, email, permissions string) shareResult {
		result := shareResult{}
		if _, err := cl.RawPost("/sharecar"+carQuery, sharePayload{
			Email:       email,
			Permissions: permissions,
		}, &result); err != nil {
			t.Fatal(err)
		}
		return result
	}

	// unknown email and unknown level answer success false
	if share(owner, "nobody@example.com", "View").Success {
		t.Fatal("share with unknown email succeeded")
	}
	if share(owner, "share-viewer@example.com", "Admin").Success {
		t.Fatal("share with unknown level succeeded")
	}

	if !share(owner, "share-viewer@example.com", "View").Success {
		t.Fatal("share failed")
	}
	if !share(owner, "share-editor@example.com", "Edit").Success {
		t.Fatal("share failed")
	}

	// the grantees see the car with their level
	list := carList{}
	if _, err := viewer.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 1 || list.Cars[0].Permissions != "View" {
		t.Fatal("unexpected viewer list:", asJSON(list))
	}

	// any grant level allows selecting the car as current
	getNull(t, viewer, "/setcurrentcar"+carQuery)
	current := CarWithPermissions{}
	if _, err := viewer.RawGet("/getcurrentcar", &current); err != nil {
		t.Fatal(err)
	}
	if current.CarID != car.CarID || current.Permissions != "View" {
		t.Fatal("unexpected current car:", asJSON(current))
	}

	// view does not allow editing or sharing
	postNull(t, viewer, "/editcar"+carQuery, map[string]interface{}{
		"name": "Stolen", "year": 2020, "make": "T", "model": "C", "miles": 0,
	})
	postNull(t, viewer, "/sharecar"+carQuery, sharePayload{
		Email:       "share-viewer@example.com",
		Permissions: "Edit",
	})

	// edit allows editing but not deleting or sharing
	edited := Car{}
	if _, err := editor.RawPost("/editcar"+carQuery, map[string]interface{}{
		"name": "Edited", "year": 2020, "make": "Toyota", "model": "Corolla", "miles": 2000,
	}, &edited); err != nil {
		t.Fatal(err)
	}
	getNull(t, editor, "/deletecar"+carQuery)
	list = carList{}
	if _, err := owner.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 1 {
		t.Fatal("grantee deleted the car")
	}

	// upgrading a grant overwrites the level
	if !share(owner, "share-viewer@example.com", "Edit").Success {
		t.Fatal("upgrade failed")
	}
	if _, err := viewer.RawGet("/getcurrentcar", &current); err != nil {
		t.Fatal(err)
	}
	if current.Permissions != "Edit" {
		t.Fatal("grant not upgraded:", asJSON(current))
	}

	// revocation is effective immediately, the stale current car pointer
	// self-heals to null
	if !share(owner, "share-viewer@example.com", "Remove Access").Success {
		t.Fatal("revoke failed")
	}
	getNull(t, viewer, "/getcurrentcar")
	list = carList{}
	if _, err := viewer.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 0 {
		t.Fatal("revoked grant still listed:", asJSON(list))
	}

	// revoking an absent grant is an idempotent success
	if !share(owner, "share-viewer@example.com", "Remove Access").Success {
		t.Fatal("idempotent revoke failed")
	}
}

func TestCarRemoveMyAccess(t *testing.T) {
	owner := clientFor(t, "auth0|bail-owner", "bail-owner@example.com")
	guest := clientFor(t, "auth0|bail-guest", "bail-guest@example.com")

	car := mustAddCar(t, owner, "Loaner")
	carQuery := "?car_id=" + strconv.Itoa(car.CarID)

	result := shareResult{}
	if _, err := owner.RawPost("/sharecar"+carQuery, sharePayload{
		Email:       "bail-guest@example.com",
		Permissions: "View",
	}, &result); err != nil {
		t.Fatal(err)
	}

	getNull(t, guest, "/removemycaraccess"+carQuery)
	list := carList{}
	if _, err := guest.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 0 {
		t.Fatal("access not removed:", asJSON(list))
	}

	// owners cannot revoke their own implicit access
	getNull(t, owner, "/removemycaraccess"+carQuery)
	if _, err := owner.RawGet("/getcars", &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Cars) != 1 {
		t.Fatal("owner lost own car:", asJSON(list))
	}
}

func TestCarInformationHiding(t *testing.T) {
	owner := clientFor(t, "auth0|hide-owner", "hide-owner@example.com")
	stranger := clientFor(t, "auth0|hide-stranger", "hide-stranger@example.com")

	car := mustAddCar(t, owner, "Hidden")
	carQuery := "?car_id=" + strconv.Itoa(car.CarID)

	// a stranger cannot tell a denied car from a missing one
	for _, path := range []string{
		"/setcurrentcar" + carQuery,
		"/setcurrentcar?car_id=999999",
		"/deletecar" + carQuery,
		"/deletecar?car_id=999999",
		"/removemycaraccess" + carQuery,
	} {
		getNull(t, stranger, path)
	}
	postNull(t, stranger, "/editcar"+carQuery, map[string]interface{}{
		"name": "X", "year": 2020, "make": "T", "model": "C", "miles": 0,
	})
	postNull(t, stranger, "/sharecar"+carQuery, sharePayload{
		Email:       "hide-stranger@example.com",
		Permissions: "Edit",
	})

	// malformed car ids fail the same way
	for _, id := range []string{"", "0", "-1", "abc"} {
		getNull(t, owner, fmt.Sprintf("/deletecar?car_id=%s", id))
	}
}
