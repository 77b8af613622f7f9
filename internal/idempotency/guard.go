package idempotency

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"time"

	"dispatch/internal/database"
	"dispatch/internal/models"
)

// Request headers driving guard behavior.
const (
	KeyHeader    = "Idempotency-Key"
	TenantHeader = "X-Tenant-Id"
)

// Store is the slice of the repository the guard needs.
type Store interface {
	GetIdempotencyKey(tenantID, key string, now time.Time) (*models.IdempotencyKey, error)
	InsertIdempotencyKey(row *models.IdempotencyKey) error
}

// mutating lists the methods the guard applies to.
var mutating = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Guard replays the first successful response for a (tenant, key) pair.
//
// The guard alone does not provide mutual exclusion: two concurrent requests
// with the same fresh key both miss the lookup and both execute. The unique
// constraint on (tenant_id, key) catches the race at insert time; the loser
// discards its own response and replays the winner's stored row, so retried
// and racing callers see identical bytes either way.
type Guard struct {
	store Store
	ttl   time.Duration
}

func NewGuard(store Store, ttl time.Duration) *Guard {
	return &Guard{store: store, ttl: ttl}
}

// Middleware wraps a handler with idempotency-key deduplication.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(KeyHeader)
		if key == "" || !mutating[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := r.Header.Get(TenantHeader)
		now := time.Now().UTC()

		cached, err := g.store.GetIdempotencyKey(tenantID, key, now)
		if err != nil {
			log.Printf("Idempotency lookup failed for key %q: %v", key, err)
			http.Error(w, "Idempotency store unavailable", http.StatusInternalServerError)
			return
		}
		if cached != nil {
			log.Printf("Duplicate request detected (tenant: %q, key: %q, %s %s), replaying cached response",
				tenantID, key, r.Method, r.URL.Path)
			replay(w, cached)
			return
		}

		// Miss: run the handler with a buffering recorder so the full
		// response can be persisted before it is sent.
		rec := newRecorder()
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 400 {
			row := &models.IdempotencyKey{
				Key:           key,
				TenantID:      tenantID,
				RequestMethod: r.Method,
				RequestPath:   r.URL.Path,
				StatusCode:    rec.status,
				ResponseBody:  rec.body.Bytes(),
				CreatedAt:     now,
				ExpiresAt:     now.Add(g.ttl),
			}

			if err := g.store.InsertIdempotencyKey(row); err != nil {
				if errors.Is(err, database.ErrDuplicateKey) {
					// A concurrent request won the race. Discard the local
					// response and replay the winner's row.
					winner, rerr := g.store.GetIdempotencyKey(tenantID, key, now)
					if rerr == nil && winner != nil {
						log.Printf("Idempotency race lost (tenant: %q, key: %q), replaying winner",
							tenantID, key)
						replay(w, winner)
						return
					}
					log.Printf("Idempotency race re-read failed for key %q: %v", key, rerr)
				} else {
					log.Printf("Failed to store idempotency key %q: %v", key, err)
				}
			}
		}

		rec.flush(w)
	})
}

func replay(w http.ResponseWriter, row *models.IdempotencyKey) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(row.StatusCode)
	w.Write(row.ResponseBody)
}

// recorder buffers a handler's response so it can be stored and then sent.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
}

func (r *recorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *recorder) flush(w http.ResponseWriter) {
	for key, values := range r.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes())
}
