package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/goliatone/go-resource-query/resource"
)

// DefaultXSRFToken is the anti-forgery token issued by the fake backend.
// It contains characters that must be URL-encoded in the cookie.
const DefaultXSRFToken = "CfDJ8+portal/token="

// Failure is a canned error response.
type Failure struct {
	Status int
	Error  *resource.RemoteError
}

// FakeBackend emulates the conventional application service contract:
// paged lists, single record reads, create/update/delete, the anti-forgery
// cookie and the refresh_token grant. It is safe for concurrent use.
type FakeBackend struct {
	server *httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	counts      map[string]int
	headers     map[string]http.Header
	failures    map[string][]Failure
	gates       map[string]chan struct{}
	waiting     map[string]int

	xsrfToken    string
	requireAuth  bool
	signingKey   []byte
	tokenTTL     time.Duration
	validAccess  map[string]bool
	validRefresh map[string]bool
}

type collection struct {
	order   []string
	records map[string]map[string]any
}

// NewFakeBackend starts a backend on a local port. Call Close when done.
func NewFakeBackend() *FakeBackend {
	b := &FakeBackend{
		collections:  map[string]*collection{},
		counts:       map[string]int{},
		headers:      map[string]http.Header{},
		failures:     map[string][]Failure{},
		gates:        map[string]chan struct{}{},
		waiting:      map[string]int{},
		xsrfToken:    DefaultXSRFToken,
		signingKey:   []byte("fake-backend-signing-key"),
		tokenTTL:     time.Hour,
		validAccess:  map[string]bool{},
		validRefresh: map[string]bool{},
	}
	b.server = httptest.NewServer(b.routes())
	return b
}

// StartFakeBackend starts a backend that is closed when the test ends.
func StartFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	b := NewFakeBackend()
	t.Cleanup(b.Close)
	return b
}

// URL returns the backend origin.
func (b *FakeBackend) URL() string { return b.server.URL }

// Close shuts the server down and releases any blocked requests.
func (b *FakeBackend) Close() {
	b.mu.Lock()
	for key, gate := range b.gates {
		close(gate)
		delete(b.gates, key)
	}
	b.mu.Unlock()
	b.server.Close()
}

func (b *FakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record, b.antiforgery, b.authenticate, b.inject)

	r.Get("/api/abp/application-configuration", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		authenticated := b.validAccess[token]
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"currentUser": map[string]any{"isAuthenticated": authenticated}})
	})
	r.Post("/connect/token", b.token)

	r.Route("/api/app/{resource}", func(r chi.Router) {
		r.Get("/", b.list)
		r.Post("/", b.create)
		r.Get("/{id}", b.get)
		r.Put("/{id}", b.update)
		r.Delete("/{id}", b.remove)
	})

	return r
}

func requestKey(method, path string) string {
	return method + " " + strings.TrimSuffix(path, "/")
}

func (b *FakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestKey(r.Method, r.URL.Path)

		b.mu.Lock()
		b.counts[key]++
		b.headers[key] = r.Header.Clone()
		gate := b.gates[key]
		if gate != nil {
			b.waiting[key]++
		}
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
			}
			b.mu.Lock()
			b.waiting[key]--
			b.mu.Unlock()
		}

		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) antiforgery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token := b.xsrfToken
		b.mu.Unlock()

		cookie, err := r.Cookie(resource.XSRFCookieName)
		if err != nil {
			http.SetCookie(w, &http.Cookie{Name: resource.XSRFCookieName, Value: url.QueryEscape(token), Path: "/"})
		}

		mutating := r.Method != http.MethodGet && r.Method != http.MethodHead && r.URL.Path != "/connect/token"
		if mutating {
			if err != nil || r.Header.Get(resource.XSRFHeaderName) != token ||
				r.Header.Get(resource.RequestVerificationHeaderName) != token {
				writeRemoteError(w, http.StatusBadRequest, &resource.RemoteError{Message: "The required antiforgery header value is not present."})
				return
			}
			if cookie.Value != url.QueryEscape(token) {
				writeRemoteError(w, http.StatusBadRequest, &resource.RemoteError{Message: "The antiforgery cookie token is invalid."})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/app/") {
			next.ServeHTTP(w, r)
			return
		}

		b.mu.Lock()
		required := b.requireAuth
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		valid := b.validAccess[token]
		b.mu.Unlock()

		if required && !valid {
			writeRemoteError(w, http.StatusUnauthorized, &resource.RemoteError{Code: "Unauthorized", Message: "The request is not authenticated."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestKey(r.Method, r.URL.Path)

		b.mu.Lock()
		var failure *Failure
		if queue := b.failures[key]; len(queue) > 0 {
			failure = &queue[0]
			b.failures[key] = queue[1:]
		}
		b.mu.Unlock()

		if failure != nil {
			writeRemoteError(w, failure.Status, failure.Error)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *FakeBackend) collection(name string) *collection {
	c, ok := b.collections[name]
	if !ok {
		c = &collection{records: map[string]map[string]any{}}
		b.collections[name] = c
	}
	return c
}

var reservedParams = map[string]bool{"filter": true, "skipCount": true, "maxResultCount": true, "sorting": true}

func (b *FakeBackend) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	skip, err := intParam(query, "skipCount", 0)
	if err != nil || skip < 0 {
		writeRemoteError(w, http.StatusBadRequest, validationError("skipCount", "SkipCount must be a non-negative number."))
		return
	}
	limit, err := intParam(query, "maxResultCount", resource.DefaultMaxResultCount)
	if err != nil || limit < 1 || limit > resource.AllMaxResultCount {
		writeRemoteError(w, http.StatusBadRequest, validationError("maxResultCount", "MaxResultCount must be between 1 and 1000."))
		return
	}

	b.mu.Lock()
	c := b.collection(chi.URLParam(r, "resource"))
	matched := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		rec := c.records[id]
		if matches(rec, query) {
			matched = append(matched, copyRecord(rec))
		}
	}
	b.mu.Unlock()

	total := len(matched)
	if skip > total {
		skip = total
	}
	end := skip + limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]any{"totalCount": total, "items": matched[skip:end]})
}

func matches(rec map[string]any, query url.Values) bool {
	if term := strings.ToLower(query.Get("filter")); term != "" {
		found := false
		for _, v := range rec {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for name := range query {
		if reservedParams[name] {
			continue
		}
		if fmt.Sprint(rec[name]) != query.Get(name) {
			return false
		}
	}
	return true
}

func (b *FakeBackend) get(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rec, ok := b.collection(chi.URLParam(r, "resource")).records[chi.URLParam(r, "id")]
	if ok {
		rec = copyRecord(rec)
	}
	b.mu.Unlock()

	if !ok {
		writeNotFound(w, chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (b *FakeBackend) create(w http.ResponseWriter, r *http.Request) {
	var rec map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		writeRemoteError(w, http.StatusBadRequest, &resource.RemoteError{Message: "Request body is not a JSON object."})
		return
	}

	id := uuid.NewString()
	rec["id"] = id

	b.mu.Lock()
	c := b.collection(chi.URLParam(r, "resource"))
	c.order = append(c.order, id)
	c.records[id] = rec
	out := copyRecord(rec)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (b *FakeBackend) update(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch == nil {
		writeRemoteError(w, http.StatusBadRequest, &resource.RemoteError{Message: "Request body is not a JSON object."})
		return
	}

	name, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")

	b.mu.Lock()
	rec, ok := b.collection(name).records[id]
	var out map[string]any
	if ok {
		for k, v := range patch {
			rec[k] = v
		}
		rec["id"] = id
		out = copyRecord(rec)
	}
	b.mu.Unlock()

	if !ok {
		writeNotFound(w, name, id)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *FakeBackend) remove(w http.ResponseWriter, r *http.Request) {
	name, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")

	b.mu.Lock()
	c := b.collection(name)
	_, ok := c.records[id]
	if ok {
		delete(c.records, id)
		for i, existing := range c.order {
			if existing == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()

	if !ok {
		writeNotFound(w, name, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *FakeBackend) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	refresh := r.PostForm.Get("refresh_token")

	b.mu.Lock()
	valid := b.validRefresh[refresh]
	delete(b.validRefresh, refresh)
	b.mu.Unlock()

	if !valid {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	access, next, err := b.IssueTokens()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	b.mu.Lock()
	ttl := b.tokenTTL
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": next,
		"token_type":    "Bearer",
		"expires_in":    int(ttl.Seconds()),
	})
}

// IssueTokens mints a valid access token and refresh token pair.
func (b *FakeBackend) IssueTokens() (access, refresh string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
	}

	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return "", "", err
	}
	refresh = uuid.NewString()

	b.validAccess[access] = true
	b.validRefresh[refresh] = true
	return access, refresh, nil
}

// RequireAuth makes /api/app routes reject requests without a valid access token.
func (b *FakeBackend) RequireAuth(required bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requireAuth = required
}

// RevokeAccessTokens invalidates every issued access token; refresh tokens stay valid.
func (b *FakeBackend) RevokeAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validAccess = map[string]bool{}
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (b *FakeBackend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validRefresh = map[string]bool{}
}

// Seed stores records under the route segment name and returns their ids.
// Records without an "id" field get a generated one.
func (b *FakeBackend) Seed(name string, records ...any) ([]string, error) {
	ids := make([]string, 0, len(records))

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.collection(name)
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("seed %s: record is not an object: %w", name, err)
		}

		id, _ := rec["id"].(string)
		if id == "" {
			id = uuid.NewString()
			rec["id"] = id
		}
		if _, exists := c.records[id]; !exists {
			c.order = append(c.order, id)
		}
		c.records[id] = rec
		ids = append(ids, id)
	}
	return ids, nil
}

// Len reports how many records a collection holds.
func (b *FakeBackend) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.collection(name).order)
}

// FailNext queues canned failures for the next requests to method and path.
func (b *FakeBackend) FailNext(method, path string, failures ...Failure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := requestKey(method, path)
	b.failures[key] = append(b.failures[key], failures...)
}

// Block holds requests to method and path until the returned release func is
// called.
func (b *FakeBackend) Block(method, path string) (release func()) {
	key := requestKey(method, path)
	gate := make(chan struct{})

	b.mu.Lock()
	if previous := b.gates[key]; previous != nil {
		close(previous)
	}
	b.gates[key] = gate
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gates[key] == gate {
			delete(b.gates, key)
			close(gate)
		}
	}
}

// Waiting reports how many requests are held by Block for method and path.
func (b *FakeBackend) Waiting(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting[requestKey(method, path)]
}

// Requests reports how many requests reached method and path, query excluded.
func (b *FakeBackend) Requests(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[requestKey(method, path)]
}

// LastHeaders returns the headers of the latest request to method and path.
func (b *FakeBackend) LastHeaders(method, path string) http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headers[requestKey(method, path)].Clone()
}

// ResetCounters clears request counts and recorded headers.
func (b *FakeBackend) ResetCounters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = map[string]int{}
	b.headers = map[string]http.Header{}
}

func intParam(query url.Values, name string, fallback int) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func copyRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func validationError(member, message string) *resource.RemoteError {
	return &resource.RemoteError{
		Message: "Your request is not valid!",
		ValidationErrors: []resource.RemoteValidationError{
			{Message: message, Members: []string{member}},
		},
	}
}

func writeNotFound(w http.ResponseWriter, name, id string) {
	writeRemoteError(w, http.StatusNotFound, &resource.RemoteError{
		Message: "There is no entity " + name + " with id = " + id + "!",
	})
}

func writeRemoteError(w http.ResponseWriter, status int, remote *resource.RemoteError) {
	if remote == nil {
		remote = &resource.RemoteError{Message: http.StatusText(status)}
	}
	writeJSON(w, status, map[string]any{"error": remote})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
