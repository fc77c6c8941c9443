package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pms/internal/transport/http/api"
)

var (
	ErrIdempotencyConflict   = errors.New("idempotency key conflicts with existing request")
	ErrIdempotencyInProgress = errors.New("a request with this idempotency key is still in progress")
)

// StoredResponse is a response kept for replay under an Idempotency-Key.
type StoredResponse struct {
	Status int
	Body   []byte
}

type IdempotencyStore interface {
	// Reserve claims key before the request runs. found is true with the
	// stored response when the key already completed. A key held by an
	// unfinished request returns ErrIdempotencyInProgress; a key used with
	// another payload returns ErrIdempotencyConflict.
	Reserve(ctx context.Context, userID, endpoint, key, requestHash string) (resp StoredResponse, found bool, err error)
	Save(ctx context.Context, userID, endpoint, key, requestHash string, resp StoredResponse) error
	// Release drops a reservation that produced no stored response.
	Release(ctx context.Context, userID, endpoint, key string) error
}

// PgIdempotencyStore keeps keys in Postgres. A nil store or pool disables it.
// A row with status_code 0 is a reservation.
type PgIdempotencyStore struct {
	db *pgxpool.Pool
}

func NewIdempotencyStore(db *pgxpool.Pool) *PgIdempotencyStore {
	return &PgIdempotencyStore{db: db}
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *PgIdempotencyStore) Reserve(ctx context.Context, userID, endpoint, key, requestHash string) (StoredResponse, bool, error) {
	if s == nil || s.db == nil {
		return StoredResponse{}, false, nil
	}
	tag, err := s.db.Exec(ctx, `
    INSERT INTO idempotency_keys (user_id, idempotency_key, endpoint, request_hash)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (user_id, idempotency_key, endpoint) DO NOTHING
  `, userID, key, endpoint, requestHash)
	if err != nil {
		return StoredResponse{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return StoredResponse{}, false, nil
	}

	var storedHash string
	var stored StoredResponse
	err = s.db.QueryRow(ctx, `
    SELECT request_hash, status_code, response_body
    FROM idempotency_keys
    WHERE user_id = $1 AND idempotency_key = $2 AND endpoint = $3
  `, userID, key, endpoint).Scan(&storedHash, &stored.Status, &stored.Body)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// released between the insert and the read
		return StoredResponse{}, false, ErrIdempotencyInProgress
	case err != nil:
		return StoredResponse{}, false, err
	case storedHash != requestHash:
		return StoredResponse{}, false, ErrIdempotencyConflict
	case stored.Status == 0:
		return StoredResponse{}, false, ErrIdempotencyInProgress
	}
	return stored, true, nil
}

func (s *PgIdempotencyStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, resp StoredResponse) error {
	if s == nil || s.db == nil {
		return nil
	}
	tag, err := s.db.Exec(ctx, `
    UPDATE idempotency_keys
    SET status_code = $5, response_body = $6
    WHERE user_id = $1 AND idempotency_key = $2 AND endpoint = $3 AND request_hash = $4
  `, userID, key, endpoint, requestHash, resp.Status, resp.Body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

func (s *PgIdempotencyStore) Release(ctx context.Context, userID, endpoint, key string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
    DELETE FROM idempotency_keys
    WHERE user_id = $1 AND idempotency_key = $2 AND endpoint = $3 AND status_code = 0
  `, userID, key, endpoint)
	return err
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// Idempotent replays the first successful response for a repeated
// Idempotency-Key from the same user on the same endpoint. The key is
// reserved while the handler runs; a failed response frees it again.
// Requests without the header, or without an identity, run normally.
func Idempotent(store IdempotencyStore, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			user, ok := GetUser(r.Context())
			if store == nil || key == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			requestID := GetRequestID(r.Context())

			raw, err := io.ReadAll(r.Body)
			if err != nil {
				api.Fail(w, http.StatusBadRequest, "InvalidInput", "unreadable request body", requestID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			scope := endpoint + " " + r.URL.Path
			requestHash := RequestHash(append([]byte(r.Method+" "+r.URL.Path+"\n"), raw...))

			stored, found, err := store.Reserve(r.Context(), user.UserID, scope, key, requestHash)
			switch {
			case errors.Is(err, ErrIdempotencyConflict), errors.Is(err, ErrIdempotencyInProgress):
				api.Fail(w, http.StatusConflict, "StateConflict", err.Error(), requestID)
				return
			case err != nil:
				slog.Warn("idempotency reserve failed", "endpoint", endpoint, "requestId", requestID, "err", err)
				next.ServeHTTP(w, r)
				return
			case found:
				w.Header().Set("Idempotent-Replayed", "true")
				api.WriteRaw(w, stored.Status, stored.Body)
				return
			}

			// The outcome is recorded even if the client has gone away.
			ctx := context.WithoutCancel(r.Context())
			capture := &captureWriter{ResponseWriter: w}
			saved := false
			defer func() {
				if saved {
					return
				}
				if err := store.Release(ctx, user.UserID, scope, key); err != nil {
					slog.Warn("idempotency release failed", "endpoint", endpoint, "requestId", requestID, "err", err)
				}
			}()

			next.ServeHTTP(capture, r)
			if capture.status < 200 || capture.status >= 300 {
				return
			}
			resp := StoredResponse{Status: capture.status, Body: capture.body.Bytes()}
			if err := store.Save(ctx, user.UserID, scope, key, requestHash, resp); err != nil {
				slog.Warn("idempotency save failed", "endpoint", endpoint, "requestId", requestID, "err", err)
				return
			}
			saved = true
		})
	}
}
