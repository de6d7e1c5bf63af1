package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/domain"
	"github.com/prn-tf/cloudidada/internal/lock"
	"github.com/prn-tf/cloudidada/internal/metrics"
	"github.com/prn-tf/cloudidada/internal/objectstore"
	"github.com/prn-tf/cloudidada/internal/service"
	"github.com/prn-tf/cloudidada/internal/store"
	"github.com/prn-tf/cloudidada/internal/store/memory"
)

type testServer struct {
	handler    http.Handler
	store      *store.FallbackingStore
	uploadsDir string
	tempDir    string
	metrics    *metrics.Metrics
}

type serverOptions struct {
	serverless bool
	maxUpload  int64
	production bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	if opts.maxUpload == 0 {
		opts.maxUpload = 1 << 20
	}

	s := store.NewFallbackingStore(nil, memory.New(), store.Options{Logger: logger})
	m := metrics.New()

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, "cloudidada")
	require.NoError(t, err)

	activities := service.NewActivityRecorder(s, logger)
	users := service.NewUserService(s, tokens, activities, lock.NewMemoryLocker(), service.UserConfig{
		APIKeyPrefix:    "cld_",
		APIKeyMinLength: 10,
		AutoProvision:   true,
		AutoEmailDomain: "cloudidada.com",
	}, logger)

	uploadsDir := t.TempDir()
	tempDir := t.TempDir()
	uploader := objectstore.NewDisk(uploadsDir, "http://localhost:5000", logger)

	files := service.NewFileService(s, uploader, nil, activities, m, service.FileConfig{
		AllowedMimeTypes: []string{"image/*", "text/plain", "application/pdf"},
		MaxUploadBytes:   opts.maxUpload,
	}, logger)

	status := &Status{Store: s, ObjectStore: uploader.Name(), Realtime: false, Environment: "test"}

	router := NewRouter(RouterConfig{
		Health:    NewHealthHandler(status),
		Provision: NewProvisionHandler(service.NewProvisionService(s, nil, lock.NewMemoryLocker(), logger)),
		Users:     NewUserHandler(users, status, opts.production, logger),
		Files: NewFileHandler(files, FileConfig{
			MaxUploadBytes: opts.maxUpload,
			Serverless:     opts.serverless,
			TempDir:        tempDir,
		}, opts.production, logger),
		Resolver:   users,
		UploadsDir: uploadsDir,
		Metrics:    m,
		Production: opts.production,
		Logger:     logger,
	})

	return &testServer{
		handler:    router.Handler(),
		store:      s,
		uploadsDir: uploadsDir,
		tempDir:    tempDir,
		metrics:    m,
	}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func jsonRequest(method, path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type filePart struct {
	name        string
	contentType string
	content     []byte
}

func multipartRequest(t *testing.T, apiKey string, file *filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		pw, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(file.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set(auth.APIKeyHeader, apiKey)
	}
	return req
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func registerUser(t *testing.T, ts *testServer, email string) string {
	t.Helper()
	rec, body := ts.do(t, jsonRequest(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": "secret123",
		"userName": "tester",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)
	return body["data"].(map[string]any)["apiKey"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "test", body["environment"])
	require.NotEmpty(t, body["timestamp"])

	services := body["services"].(map[string]any)
	require.Equal(t, false, services["remoteStore"])
	require.Equal(t, true, services["objectStore"])

	storage := body["storage"].(map[string]any)
	require.Equal(t, "none", storage["remote"])
	require.Equal(t, true, storage["memory"])
	require.Equal(t, "local", storage["objectStore"])

	breaker := body["breaker"].(map[string]any)
	require.Equal(t, "TRIPPED", breaker["state"])
	require.Equal(t, "remote store not configured", breaker["reason"])

	stats := body["memoryStats"].(map[string]any)
	for _, k := range []string{"users", "files", "apiKeys", "activities"} {
		require.Contains(t, stats, k)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Route not found", body["error"])

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/register", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, false, body["success"])
}

func TestInitDB_NotConnected(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/init-db", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Remote store not connected, using memory storage", body["message"])
	require.Contains(t, body, "troubleshooting")
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec, body := ts.do(t, jsonRequest(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
		"userName": "alice",
	}))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	require.Equal(t, "alice", data["name"])
	require.Equal(t, "free", data["plan"])
	require.True(t, strings.HasPrefix(data["apiKey"].(string), "cld_"))
	require.NotContains(t, data, "token")

	rec, body = ts.do(t, jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	login := body["data"].(map[string]any)
	require.NotEmpty(t, login["token"])
	require.Equal(t, data["userId"], login["userId"])

	tests := []struct {
		name       string
		path       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "register missing fields",
			path:       "/api/auth/register",
			body:       map[string]string{"email": "bob@example.com"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields",
		},
		{
			name:       "register duplicate email",
			path:       "/api/auth/register",
			body:       map[string]string{"email": "alice@example.com", "password": "x", "userName": "again"},
			wantStatus: http.StatusBadRequest,
			wantError:  "User already exists",
		},
		{
			name:       "login wrong password",
			path:       "/api/auth/login",
			body:       map[string]string{"email": "alice@example.com", "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid credentials",
		},
		{
			name:       "login unknown email",
			path:       "/api/auth/login",
			body:       map[string]string{"email": "carol@example.com", "password": "secret123"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid credentials",
		},
		{
			name:       "login missing password",
			path:       "/api/auth/login",
			body:       map[string]string{"email": "alice@example.com"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := ts.do(t, jsonRequest(http.MethodPost, tt.path, tt.body))
			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, false, body["success"])
			require.Equal(t, tt.wantError, body["error"])
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
		rec, body := ts.do(t, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "Invalid request body", body["error"])
	})
}

func TestUpload(t *testing.T) {
	for _, serverless := range []bool{false, true} {
		t.Run(fmt.Sprintf("serverless=%v", serverless), func(t *testing.T) {
			ts := newTestServer(t, serverOptions{serverless: serverless})
			apiKey := registerUser(t, ts, "alice@example.com")

			content := pngBytes(t, 3, 2)
			rec, body := ts.do(t, multipartRequest(t, apiKey,
				&filePart{name: "cat.png", contentType: "image/png", content: content},
				map[string]string{"folder": "pets", "tags": "cat, cute,"},
			))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			data := body["data"].(map[string]any)
			require.Equal(t, "cat.png", data["originalName"])
			require.Equal(t, "pets", data["folder"])
			require.Equal(t, []any{"cat", "cute"}, data["tags"])
			require.Equal(t, "png", data["format"])
			require.Equal(t, float64(3), data["width"])
			require.Equal(t, float64(2), data["height"])
			require.Equal(t, float64(len(content)), data["size"])
			require.Equal(t, "local", data["storage"])

			// The stored file is served under /uploads.
			url := data["url"].(string)
			path := strings.TrimPrefix(url, "http://localhost:5000")
			rec, _ = ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, content, rec.Body.Bytes())

			// Spooled temp files are removed after the request.
			entries, err := os.ReadDir(ts.tempDir)
			require.NoError(t, err)
			require.Empty(t, entries)

			req := httptest.NewRequest(http.MethodGet, "/api/files/list?folder=pets", nil)
			req.Header.Set(auth.APIKeyHeader, apiKey)
			rec, body = ts.do(t, req)
			require.Equal(t, http.StatusOK, rec.Code)
			list := body["data"].(map[string]any)
			require.Len(t, list["files"], 1)
			require.Equal(t, map[string]any{"page": float64(1), "limit": float64(20), "total": float64(1), "pages": float64(1)}, list["pagination"])
			meta := list["meta"].(map[string]any)
			require.Equal(t, "memory", meta["source"])
			require.Equal(t, false, meta["remoteConnected"])

			req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			req.Header.Set(auth.APIKeyHeader, apiKey)
			rec, body = ts.do(t, req)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, map[string]any{
				"files":    float64(1),
				"storage":  float64(len(content)),
				"requests": float64(1),
			}, body["data"])

			require.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.Uploads.WithLabelValues("local", metrics.OutcomeOK)))
		})
	}
}

func TestUpload_SniffsMissingContentType(t *testing.T) {
	ts := newTestServer(t, serverOptions{serverless: true})
	apiKey := registerUser(t, ts, "alice@example.com")

	rec, body := ts.do(t, multipartRequest(t, apiKey,
		&filePart{name: "blob", content: pngBytes(t, 1, 1)}, nil,
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "png", body["data"].(map[string]any)["format"])
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		file       *filePart
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing api key",
			file:       &filePart{name: "a.txt", contentType: "text/plain", content: []byte("hi")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "API key required",
		},
		{
			name:       "malformed api key",
			apiKey:     "bogus",
			file:       &filePart{name: "a.txt", contentType: "text/plain", content: []byte("hi")},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid API key",
		},
		{
			name:       "no file part",
			apiKey:     "cld_autouser01",
			wantStatus: http.StatusBadRequest,
			wantError:  "No file uploaded",
		},
		{
			name:       "disallowed type",
			apiKey:     "cld_autouser01",
			file:       &filePart{name: "run.exe", contentType: "application/x-msdownload", content: []byte("MZ")},
			wantStatus: http.StatusBadRequest,
			wantError:  "File type not allowed",
		},
		{
			name:       "too large",
			apiKey:     "cld_autouser01",
			file:       &filePart{name: "big.txt", contentType: "text/plain", content: bytes.Repeat([]byte("a"), 2048)},
			wantStatus: http.StatusBadRequest,
			wantError:  "File too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, serverOptions{maxUpload: 1024})

			rec, body := ts.do(t, multipartRequest(t, tt.apiKey, tt.file, map[string]string{"folder": "x"}))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			require.Equal(t, false, body["success"])
			require.Equal(t, tt.wantError, body["error"])
			require.Zero(t, ts.store.LocalStats().Files)

			entries, err := os.ReadDir(ts.uploadsDir)
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestUpload_AutoProvisionedKey(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec, _ := ts.do(t, multipartRequest(t, "cld_newclient1",
		&filePart{name: "a.txt", contentType: "text/plain", content: []byte("hello")}, nil,
	))
	require.Equal(t, http.StatusCreated, rec.Code)

	user, err := ts.store.GetUserByAPIKey(t.Context(), "cld_newclient1")
	require.NoError(t, err)
	require.True(t, user.AutoGenerated)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		production  bool
		wantStatus  int
		wantError   string
		wantMessage string
	}{
		{
			name:        "missing fields",
			err:         service.ErrMissingFields,
			wantStatus:  http.StatusBadRequest,
			wantError:   "Missing required fields",
			wantMessage: service.ErrMissingFields.Error(),
		},
		{
			name:        "wrapped duplicate",
			err:         fmt.Errorf("%w: email 'a@b.c'", domain.ErrUserAlreadyExists),
			wantStatus:  http.StatusBadRequest,
			wantError:   "User already exists",
			wantMessage: "user already exists: email 'a@b.c'",
		},
		{
			name:        "invalid credentials",
			err:         domain.ErrInvalidCredentials,
			wantStatus:  http.StatusUnauthorized,
			wantError:   "Invalid credentials",
			wantMessage: "Email or password is incorrect",
		},
		{
			name:        "upload failure in development",
			err:         fmt.Errorf("%w: bucket gone", service.ErrUploadFailed),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Upload failed",
			wantMessage: "upload failed: bucket gone",
		},
		{
			name:        "upload failure in production",
			err:         fmt.Errorf("%w: bucket gone", service.ErrUploadFailed),
			production:  true,
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Upload failed",
			wantMessage: "Something went wrong",
		},
		{
			name:        "unknown in development",
			err:         errors.New("disk on fire"),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal server error",
			wantMessage: "disk on fire",
		},
		{
			name:        "unknown in production",
			err:         errors.New("disk on fire"),
			production:  true,
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal server error",
			wantMessage: "Something went wrong on the server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, tt.production)
			require.Equal(t, tt.wantStatus, got.Status)
			require.Equal(t, tt.wantError, got.Error)
			require.Equal(t, tt.wantMessage, got.Message)
		})
	}
}

func TestRecoverer(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	for _, production := range []bool{false, true} {
		rec := httptest.NewRecorder()
		recoverer(zerolog.Nop(), production)(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var body errorBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.False(t, body.Success)
		if production {
			require.Equal(t, "Something went wrong", body.Message)
		} else {
			require.Equal(t, "boom", body.Message)
		}
	}
}
