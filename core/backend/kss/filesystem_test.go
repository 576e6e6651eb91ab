package kss

import (
	"bytes"
	"testing"
)

func TestLocalFilesystem(t *testing.T) {
	driver, err := NewLocalFilesystem(LocalConfiguration{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := driver.Get("cars/1.jpg"); err != ErrNotFound {
		t.Fatal("expected ErrNotFound, got:", err)
	}

	data := []byte("first")
	if err := driver.Put("cars/1.jpg", data, "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	got, contentType, err := driver.Get("cars/1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) || contentType != "image/jpeg" {
		t.Fatal("roundtrip failed:", string(got), contentType)
	}

	// put overwrites
	if err := driver.Put("cars/1.jpg", []byte("second"), "image/png"); err != nil {
		t.Fatal(err)
	}
	got, contentType, err = driver.Get("cars/1.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" || contentType != "image/png" {
		t.Fatal("overwrite failed:", string(got), contentType)
	}

	if err := driver.Delete("cars/1.jpg"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := driver.Get("cars/1.jpg"); err != ErrNotFound {
		t.Fatal("expected ErrNotFound after delete, got:", err)
	}

	// deleting an absent key is not an error
	if err := driver.Delete("cars/1.jpg"); err != nil {
		t.Fatal(err)
	}
}

func TestLocalFilesystemKeyEscape(t *testing.T) {
	driver, err := NewLocalFilesystem(LocalConfiguration{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Put("../escape", []byte("x"), "text/plain"); err == nil {
		t.Fatal("key escaped the base path")
	}
	if _, _, err := driver.Get("../escape"); err == nil {
		t.Fatal("key escaped the base path")
	}
}

func TestNewDriver(t *testing.T) {
	driver, err := NewDriver(Configuration{
		DriverType:         DriverTypeLocal,
		LocalConfiguration: &LocalConfiguration{BasePath: t.TempDir()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if driver == nil {
		t.Fatal("no driver")
	}

	driver, err = NewDriver(Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	if driver != nil {
		t.Fatal("expected no driver for the empty configuration")
	}
}
