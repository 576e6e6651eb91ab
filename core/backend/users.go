package backend

import (
	"fmt"
	"io"
	"net/http"

	"github.com/relabs-tech/carlog/core/access"
	"github.com/relabs-tech/carlog/core/logger"
)

// addUserWithAuth upserts the identity record for a freshly authenticated
// user. The record is created on first contact and never deleted here.
func (b *Backend) addUserWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := access.IdentityFromContext(ctx); err != nil {
		respondNull(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondNull(w, r)
		return
	}
	payload, err := b.validateUser(body)
	if err != nil {
		respondNull(w, r)
		return
	}

	rlog := logger.FromContext(ctx)
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2320: cannot begin transaction")
		http.Error(w, "Error 2320", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.users(user_id, email, email_verified) VALUES($1, $2, $3)
ON CONFLICT (user_id) DO NOTHING;`, b.db.Schema),
		payload.UserID, payload.Email, payload.EmailVerified)
	if err != nil {
		rlog.WithError(err).Errorf("Error 2322: cannot upsert user")
		http.Error(w, "Error 2322", http.StatusInternalServerError)
		return
	}
	created := false
	if count, _ := result.RowsAffected(); count == 1 {
		created = true
		err = b.raiseEvent(ctx, tx, "user.created", "user", payload.UserID, nil)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		rlog.WithError(err).Errorf("Error 2323: cannot upsert user")
		http.Error(w, "Error 2323", http.StatusInternalServerError)
		return
	}
	if created {
		rlog.Infoln("created user", payload.UserID)
	}

	respondNull(w, r)
}

// getUserWithAuth returns the caller's identity record.
func (b *Backend) getUserWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := access.IdentityFromContext(ctx)
	if err != nil {
		respondNull(w, r)
		return
	}
	user, err := b.requireUser(ctx, userID)
	if err == errDenied {
		respondNull(w, r)
		return
	}
	if err != nil {
		http.Error(w, "Error 2321", http.StatusInternalServerError)
		return
	}
	respondJSON(w, r, user)
}
