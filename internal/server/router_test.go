package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ssepush-lite/internal/auth"
	"ssepush-lite/internal/middleware"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/rest"
	"ssepush-lite/internal/store"
)

var testKeys = middleware.AppKeys{AppID: "app", AppKey: "key", MasterKey: "master"}

func testTokenConfig(streamURL string) auth.TokenConfig {
	return auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test", StreamURL: streamURL}
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store, auth.TokenConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokenCfg := testTokenConfig("http://localhost/push/stream")
	st := store.NewWithOptions(store.Options{Issuer: func(id string) (model.Credentials, error) {
		return auth.IssueCredentials(id, tokenCfg)
	}})
	r := NewRouter(Deps{Store: st, TokenConfig: tokenCfg, Keys: testKeys})
	return r, st, tokenCfg
}

func doJSON(t *testing.T, r http.Handler, method, path, key string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(rest.HeaderAppID, testKeys.AppID)
	req.Header.Set(rest.HeaderAppKey, key)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func registration(token string, channels ...string) map[string]any {
	return map[string]any{
		"_deviceToken":    token,
		"_channels":       channels,
		"_allowedSenders": []string{"g:anonymous"},
		"_pushType":       "sse",
		"email":           token + "@example.com",
	}
}

func TestInstallationLifecycle(t *testing.T) {
	r, _, tokenCfg := newTestRouter(t)

	w, created := doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-1", "news"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id, _ := created["_id"].(string)
	if id == "" {
		t.Fatalf("expected _id, got %v", created)
	}
	if v, ok := created["_owner"]; !ok || v != nil {
		t.Fatalf("expected _owner null, got %v", created["_owner"])
	}
	if created["email"] != "dev-1@example.com" {
		t.Fatalf("expected option echoed, got %v", created["email"])
	}
	sse, _ := created["_sse"].(map[string]any)
	if sse["username"] != id {
		t.Fatalf("expected sse username %q, got %v", id, sse["username"])
	}
	password, _ := sse["password"].(string)
	if claims, err := auth.VerifyToken(password, tokenCfg); err != nil || claims.InstallationID != id {
		t.Fatalf("expected password to verify for %q: %v", id, err)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-1", "sports"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for known device token, got %d", w.Code)
	}

	w, got := doJSON(t, r, http.MethodGet, "/push/installations/"+id, testKeys.AppKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	channels, _ := got["_channels"].([]any)
	if len(channels) != 1 || channels[0] != "sports" {
		t.Fatalf("expected channels [sports], got %v", got["_channels"])
	}

	w, merged := doJSON(t, r, http.MethodPut, "/push/installations/"+id, testKeys.AppKey, map[string]any{"color": "red", "email": nil})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if merged["color"] != "red" {
		t.Fatalf("expected merged option, got %v", merged)
	}
	if _, ok := merged["email"]; ok {
		t.Fatalf("expected email removed, got %v", merged)
	}

	full := map[string]any{"$full_update": registration("dev-1", "weather")}
	w, replaced := doJSON(t, r, http.MethodPut, "/push/installations/"+id, testKeys.AppKey, full)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := replaced["color"]; ok {
		t.Fatalf("expected full update to drop color, got %v", replaced)
	}

	w, _ = doJSON(t, r, http.MethodDelete, "/push/installations/"+id, testKeys.AppKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/push/installations/"+id, testKeys.AppKey, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodPut, "/push/installations/"+id, testKeys.AppKey, full)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 updating deleted installation, got %d", w.Code)
	}
}

func TestInstallationCreate_RejectsMissingFields(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body := registration("dev-1", "news")
	delete(body, "_allowedSenders")
	w, _ := doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	body = registration("dev-1", "news")
	body["_pushType"] = "gcm"
	w, _ = doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for foreign push type, got %d", w.Code)
	}
}

func TestInstallationCreate_IgnoresServerOwnedFields(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body := registration("dev-1", "news")
	body["_id"] = "chosen"
	body["_owner"] = "someone"
	w, resp := doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if resp["_id"] == "chosen" || resp["_owner"] != nil {
		t.Fatalf("expected server owned fields ignored, got %v", resp)
	}
}

func TestInstallationUpdate_DeviceTokenConflict(t *testing.T) {
	r, _, _ := newTestRouter(t)

	_, a := doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-a", "x"))
	doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-b", "x"))

	w, _ := doJSON(t, r, http.MethodPut, "/push/installations/"+a["_id"].(string), testKeys.AppKey,
		map[string]any{"$full_update": registration("dev-b", "x")})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestListAndNotifications_RequireMasterKey(t *testing.T) {
	r, _, _ := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-1", "news"))
	doJSON(t, r, http.MethodPost, "/push/installations", testKeys.AppKey, registration("dev-2", "news"))

	w, _ := doJSON(t, r, http.MethodGet, "/push/installations", testKeys.AppKey, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with app key, got %d", w.Code)
	}
	w, resp := doJSON(t, r, http.MethodGet, "/push/installations", testKeys.MasterKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if results, _ := resp["results"].([]any); len(results) != 2 {
		t.Fatalf("expected 2 results, got %v", resp["results"])
	}

	send := map[string]any{"channels": []string{"news"}, "message": "hello"}
	w, _ = doJSON(t, r, http.MethodPost, "/push/notifications", testKeys.AppKey, send)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with app key, got %d", w.Code)
	}
	w, resp = doJSON(t, r, http.MethodPost, "/push/notifications", testKeys.MasterKey, send)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["installations"] != float64(2) || resp["delivered"] != float64(0) {
		t.Fatalf("unexpected send result %v", resp)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/push/notifications", testKeys.MasterKey, map[string]any{"channels": []string{}, "message": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty channels, got %d", w.Code)
	}
}

func TestRequireApp_RejectsUnknownKey(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/push/installations", "wrong", registration("dev-1", "news"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStream_RejectsBadCredentials(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/push/stream", nil)
	req.SetBasicAuth("someone", "not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStream_RejectsDeletedInstallation(t *testing.T) {
	r, _, tokenCfg := newTestRouter(t)

	creds, err := auth.IssueCredentials("ghost", tokenCfg)
	if err != nil {
		t.Fatalf("IssueCredentials: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/push/stream", nil)
	req.SetBasicAuth(creds.Username, creds.Password)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
