package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/verdantlab/verdant-core/internal/auth"
	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
	"github.com/verdantlab/verdant-core/internal/infrastructure/database"
	"github.com/verdantlab/verdant-core/internal/infrastructure/logging"
	"github.com/verdantlab/verdant-core/internal/kit"
	"github.com/verdantlab/verdant-core/internal/measurement"
	"github.com/verdantlab/verdant-core/internal/stream"
	_ "github.com/verdantlab/verdant-core/migrations"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// testEnv bundles the collaborators behind a test server so tests can seed
// and inspect state directly.
type testEnv struct {
	db      *database.DB
	kits    *kit.Registry
	users   auth.UserRepository
	store   measurement.Store
	streams *stream.Registry
}

// testServer creates a Server wired to a migrated temp-file SQLite database.
func testServer(t *testing.T) (*Server, *testEnv) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	kits := kit.NewRegistry(kit.NewSQLiteRepository(db.DB))
	users := auth.NewUserRepository(db.DB)
	resolver := auth.NewResolver(kits, users, testJWTSecret, nil)
	store := measurement.NewSQLiteStore(db.DB)
	normalizer := measurement.NewNormalizer(kits)
	streams := stream.NewRegistry(nil)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.TimeoutsConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testJWTSecret,
				AccessTokenTTL: 15,
			},
		},
		Logger:     log,
		Kits:       kits,
		Users:      users,
		Resolver:   resolver,
		Normalizer: normalizer,
		Store:      store,
		Streams:    streams,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, &testEnv{db: db, kits: kits, users: users, store: store, streams: streams}
}

// seedUser creates an active user with the given credentials.
func seedUser(t *testing.T, env *testEnv, username, password string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &auth.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}

// seedKit creates a kit whose device secret is the given plaintext.
func seedKit(t *testing.T, env *testEnv, serial, secret string, public bool) *kit.Kit {
	t.Helper()

	hash, err := auth.HashPassword(secret)
	if err != nil {
		t.Fatalf("hash kit secret: %v", err)
	}
	k := &kit.Kit{
		Serial:          serial,
		Name:            "Kit " + serial,
		SecretHash:      hash,
		PublicDashboard: public,
	}
	if err := env.kits.Create(context.Background(), k); err != nil {
		t.Fatalf("seed kit %s: %v", serial, err)
	}
	return k
}

// seedSensor attaches an active "soil-moisture" style peripheral to the kit,
// creating its definition and a declared quantity type on first use.
func seedSensor(t *testing.T, env *testEnv, kitID, name string) string {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	defID := "def-" + name
	//nolint:errcheck // UNIQUE conflict means an earlier test call seeded it
	env.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO peripheral_definitions (id, name, class_name, created_at) VALUES (?, ?, ?, ?)`,
		defID, "Sensor "+name, "VerdantSensor", now)
	//nolint:errcheck // UNIQUE conflict means an earlier test call seeded it
	env.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO quantity_types (id, physical_quantity, physical_unit, unit_symbol) VALUES (?, ?, ?, ?)`,
		"qt-"+name, "Moisture", "Percent", "%")
	//nolint:errcheck // UNIQUE conflict means an earlier test call seeded it
	env.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO peripheral_definition_quantity_types (definition_id, quantity_type_id) VALUES (?, ?)`,
		defID, "qt-"+name)

	p := &kit.Peripheral{
		KitID:        kitID,
		DefinitionID: defID,
		Name:         name,
		Active:       true,
	}
	if err := env.kits.AddPeripheral(ctx, p); err != nil {
		t.Fatalf("seed peripheral %s: %v", name, err)
	}
	return p.ID
}

// loginToken obtains a bearer token for the user via the login endpoint.
func loginToken(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(loginRequest{Username: username, Password: password}) //nolint:errcheck // static struct
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return resp.AccessToken
}

// doJSON performs a request with an optional bearer token and JSON body.
func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doJSON(t, router, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

// ─── Login Tests ───────────────────────────────────────────────────

func TestLogin(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")

	token := loginToken(t, router, "maria", "correct-horse-battery")
	if token == "" {
		t.Fatal("expected a non-empty access token")
	}

	// The token should resolve to the user via /auth/me
	w := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d, body = %s", w.Code, w.Body.String())
	}
	var me auth.User
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Username != "maria" {
		t.Errorf("me username = %q, want maria", me.Username)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedUser(t, env, "maria", "correct-horse-battery")

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "maria", Password: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "nobody", Password: "whatever"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestKitLogin(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedKit(t, env, "k-greenhouse-1", "device-secret-abc", false)

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/kit-login", "",
		kitLoginRequest{Serial: "k-greenhouse-1", Secret: "device-secret-abc"})
	if w.Code != http.StatusOK {
		t.Fatalf("kit login status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected a non-empty access token")
	}

	claims, err := auth.ParseToken(resp.AccessToken, testJWTSecret)
	if err != nil {
		t.Fatalf("parse kit token: %v", err)
	}
	if claims.TokenKind != auth.TokenKindKit {
		t.Errorf("token kind = %q, want %q", claims.TokenKind, auth.TokenKindKit)
	}
	if claims.Subject != "k-greenhouse-1" {
		t.Errorf("token subject = %q, want the kit serial", claims.Subject)
	}
}

func TestKitLogin_WrongSecret(t *testing.T) {
	srv, env := testServer(t)
	router := srv.buildRouter()
	seedKit(t, env, "k-greenhouse-1", "device-secret-abc", false)

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/kit-login", "",
		kitLoginRequest{Serial: "k-greenhouse-1", Secret: "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("kit login status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// ─── Ticket Tests ──────────────────────────────────────────────────

func TestWSTicket_AnonymousAllowed(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/ws-ticket", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ticket status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ticket, _ := resp["ticket"].(string) //nolint:errcheck // checked via empty string test below
	if ticket == "" {
		t.Fatal("expected a non-empty ticket")
	}

	principal, ok := srv.tickets.redeem(ticket)
	if !ok {
		t.Fatal("ticket should redeem once")
	}
	if !principal.IsAnonymous() {
		t.Errorf("principal = %+v, want anonymous", principal)
	}
	if _, ok := srv.tickets.redeem(ticket); ok {
		t.Error("ticket redeemed twice")
	}
}

func TestManagementRequiresAuth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/kits/"},
		{http.MethodGet, "/api/v1/users/"},
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/quantity-types"},
	}
	for _, p := range paths {
		w := doJSON(t, router, p.method, p.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
