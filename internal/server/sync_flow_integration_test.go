package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/readsync/internal/auth"
	"github.com/MarcoPoloResearchLab/readsync/internal/database"
	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"github.com/MarcoPoloResearchLab/readsync/internal/progress"
	"github.com/MarcoPoloResearchLab/readsync/internal/server"
	"github.com/MarcoPoloResearchLab/readsync/internal/users"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	flowUsername    = "alice"
	flowSecret      = "secret1"
	jsonContentType = "application/json"
)

func TestSyncFlowSQLite(testContext *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "flow.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := kvstore.NewSQLiteStore(db)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	defer store.Close()

	runSyncFlow(testContext, store)
}

func TestSyncFlowRedis(testContext *testing.T) {
	redisServer := miniredis.RunT(testContext)
	store, err := kvstore.NewRedisStore("redis://" + redisServer.Addr() + "/0")
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	defer store.Close()

	runSyncFlow(testContext, store)

	stored, err := redisServer.Get("user:alice:key")
	if err != nil || stored != flowSecret {
		testContext.Fatalf("expected account secret at user:alice:key, got %q (%v)", stored, err)
	}
	if redisServer.HGet("user:alice:document:bookA", "device_id") != "d1" {
		testContext.Fatalf("expected progress hash at user:alice:document:bookA")
	}
}

func runSyncFlow(testContext *testing.T, store kvstore.Store) {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	usersService, err := users.NewService(users.ServiceConfig{Store: store, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{Secrets: usersService, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build authenticator: %v", err)
	}
	progressService, err := progress.NewService(progress.ServiceConfig{Store: store, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build progress service: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:   authenticator,
		UsersService:    usersService,
		ProgressService: progressService,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Scenario A: create then duplicate.
	createBody := map[string]string{"username": flowUsername, "password": flowSecret}
	status, body := doRequest(testContext, http.MethodPost, testServer.URL+"/users/create", createBody, nil)
	if status != http.StatusCreated || body != `{"username":"alice"}` {
		testContext.Fatalf("unexpected create response: %d %s", status, body)
	}
	status, _ = doRequest(testContext, http.MethodPost, testServer.URL+"/users/create", createBody, nil)
	if status != http.StatusConflict {
		testContext.Fatalf("expected conflict on duplicate create, got %d", status)
	}

	// Scenario B: wrong key.
	status, _ = doRequest(testContext, http.MethodGet, testServer.URL+"/users/auth", nil, authHeaders(flowUsername, "wrong"))
	if status != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized for wrong key, got %d", status)
	}
	status, _ = doRequest(testContext, http.MethodGet, testServer.URL+"/users/auth", nil, authHeaders(flowUsername, flowSecret))
	if status != http.StatusOK {
		testContext.Fatalf("expected authorized, got %d", status)
	}

	// Scenario C: update then read back.
	before := uint64(time.Now().Unix())
	update := map[string]any{
		"document":   "bookA",
		"progress":   "p42",
		"percentage": 37.5,
		"device":     "phone",
		"device_id":  "d1",
		"timestamp":  1,
	}
	status, body = doRequest(testContext, http.MethodPost, testServer.URL+"/syncs/progress", update, authHeaders(flowUsername, flowSecret))
	if status != http.StatusOK {
		testContext.Fatalf("unexpected update status %d: %s", status, body)
	}
	var stored progress.Record
	if err := json.Unmarshal([]byte(body), &stored); err != nil {
		testContext.Fatalf("failed to decode update response: %v", err)
	}
	if stored.Timestamp < before || stored.Timestamp == 1 {
		testContext.Fatalf("expected server-assigned timestamp, got %d", stored.Timestamp)
	}

	status, body = doRequest(testContext, http.MethodGet, testServer.URL+"/syncs/progress/bookA", nil, authHeaders(flowUsername, flowSecret))
	if status != http.StatusOK {
		testContext.Fatalf("unexpected get status %d", status)
	}
	var fetched progress.Record
	if err := json.Unmarshal([]byte(body), &fetched); err != nil {
		testContext.Fatalf("failed to decode get response: %v", err)
	}
	if fetched != stored {
		testContext.Fatalf("fetched record mismatch: got %+v want %+v", fetched, stored)
	}

	// Scenario D: never synced document.
	status, body = doRequest(testContext, http.MethodGet, testServer.URL+"/syncs/progress/bookB", nil, authHeaders(flowUsername, flowSecret))
	if status != http.StatusOK {
		testContext.Fatalf("unexpected get status %d", status)
	}
	var empty progress.Record
	if err := json.Unmarshal([]byte(body), &empty); err != nil {
		testContext.Fatalf("failed to decode empty record: %v", err)
	}
	if empty != progress.ZeroRecord() {
		testContext.Fatalf("expected zero record, got %+v", empty)
	}

	// Scenario E: separator in document.
	update["document"] = "a:b"
	status, body = doRequest(testContext, http.MethodPost, testServer.URL+"/syncs/progress", update, authHeaders(flowUsername, flowSecret))
	if status != http.StatusBadRequest || body != "INVALID_FIELD: document" {
		testContext.Fatalf("unexpected response for separator document: %d %s", status, body)
	}
}

func authHeaders(username, key string) map[string]string {
	return map[string]string{auth.HeaderUser: username, auth.HeaderKey: key}
}

func doRequest(testContext *testing.T, method, url string, payload any, headers map[string]string) (int, string) {
	testContext.Helper()
	var reader io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, url, reader)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		testContext.Fatalf("failed to read body: %v", err)
	}
	return response.StatusCode, string(body)
}
