package backend

import (
	"bytes"
	"strconv"
	"testing"
)

func TestCarImage(t *testing.T) {
	cl := clientFor(t, "auth0|image-owner", "image-owner@example.com")
	car := mustAddCar(t, cl, "Pictured")
	carQuery := "?car_id=" + strconv.Itoa(car.CarID)

	image := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46}

	// no image yet
	var blob []byte
	status, _, _ := cl.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob)
	if status != 404 {
		t.Fatal("expected 404, got", status)
	}

	message := imageMessage{}
	if _, err := cl.RawPostBlob("/uploadCarImage"+carQuery,
		map[string]string{"Content-Type": "image/jpeg"}, image, &message); err != nil {
		t.Fatal(err)
	}
	if message.Message == "" {
		t.Fatal("no upload confirmation")
	}

	blob = nil
	_, header, err := cl.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, image) {
		t.Fatal("image roundtrip failed")
	}
	if header.Get("Content-Type") != "image/jpeg" {
		t.Fatal("unexpected content type:", header.Get("Content-Type"))
	}

	// a second upload overwrites the image
	replacement := []byte{0x89, 0x50, 0x4e, 0x47}
	if _, err := cl.RawPostBlob("/uploadCarImage"+carQuery,
		map[string]string{"Content-Type": "image/png"}, replacement, nil); err != nil {
		t.Fatal(err)
	}
	blob = nil
	if _, _, err := cl.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, replacement) {
		t.Fatal("image not overwritten")
	}

	// non-image content is refused
	var raw []byte
	if _, err := cl.RawPostBlob("/uploadCarImage"+carQuery,
		map[string]string{"Content-Type": "text/plain"}, []byte("hello"), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw) != "null" {
		t.Fatal("expected null, got:", string(raw))
	}

	// the image goes with the car
	getNull(t, cl, "/deletecar"+carQuery)
	status, _, _ = cl.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob)
	if status != 200 { // car gone, uniform null
		t.Fatal("expected 200 null, got", status)
	}
}

func TestCarImagePermissions(t *testing.T) {
	owner := clientFor(t, "auth0|image-share-owner", "image-share-owner@example.com")
	viewer := clientFor(t, "auth0|image-share-viewer", "image-share-viewer@example.com")

	car := mustAddCar(t, owner, "Gallery")
	carQuery := "?car_id=" + strconv.Itoa(car.CarID)

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	if _, err := owner.RawPostBlob("/uploadCarImage"+carQuery,
		map[string]string{"Content-Type": "image/jpeg"}, image, nil); err != nil {
		t.Fatal(err)
	}

	result := shareResult{}
	if _, err := owner.RawPost("/sharecar"+carQuery, sharePayload{
		Email:       "image-share-viewer@example.com",
		Permissions: "View",
	}, &result); err != nil {
		t.Fatal(err)
	}

	// a viewer downloads but does not upload
	var blob []byte
	if _, _, err := viewer.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, image) {
		t.Fatal("viewer download failed")
	}
	var raw []byte
	if _, err := viewer.RawPostBlob("/uploadCarImage"+carQuery,
		map[string]string{"Content-Type": "image/jpeg"}, image, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw) != "null" {
		t.Fatal("viewer uploaded an image")
	}

	// strangers see the uniform null
	stranger := testService.client.WithIdentity("auth0|image-stranger")
	status, _, _ := stranger.RawGetBlobWithHeader("/downloadCarImage"+carQuery, nil, &blob)
	if status != 200 {
		t.Fatal("expected 200 null, got", status)
	}
}
