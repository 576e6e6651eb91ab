package backend

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relabs-tech/carlog/core/access"
	"github.com/relabs-tech/carlog/core/backend/kss"
	"github.com/relabs-tech/carlog/core/logger"
)

// maxImageSize caps car image uploads at 64MB.
const maxImageSize = 64 * 1024 * 1024

// carImageKey is the blob store key of a car's image. One image per car,
// overwritten on upload.
func carImageKey(carID int) string {
	return fmt.Sprintf("cars/%d.jpg", carID)
}

type imageMessage struct {
	Message string `json:"message"`
}

// uploadCarImageWithAuth stores the request body as the car's image.
// Requires edit access and an image/* content type.
func (b *Backend) uploadCarImageWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if b.kssDriver == nil {
		respondNull(w, r)
		return
	}
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

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageSize))
	if err != nil {
		respondNull(w, r)
		return
	}

	if err := b.kssDriver.Put(carImageKey(car.CarID), body, contentType); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2360: cannot store car image")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		respondJSON(w, r, imageMessage{Message: "Failed to upload file"})
		return
	}
	respondJSON(w, r, imageMessage{Message: "File uploaded successfully"})
}

// downloadCarImageWithAuth returns the car's image. View access suffices.
func (b *Backend) downloadCarImageWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if b.kssDriver == nil {
		respondNull(w, r)
		return
	}
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

	data, contentType, err := b.kssDriver.Get(carImageKey(car.CarID))
	if err == kss.ErrNotFound {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		respondJSON(w, r, imageMessage{Message: "File not found"})
		return
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 2361: cannot read car image")
		http.Error(w, "Error 2361", http.StatusInternalServerError)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}
