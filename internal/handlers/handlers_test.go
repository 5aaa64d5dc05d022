package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/priyanshukr01/EcoSap/internal/auth"
	"github.com/priyanshukr01/EcoSap/internal/usecase"
)

const testJWTSecret = "test-secret"

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	awardUC := &usecase.AwardUseCase{}
	accountUC := &usecase.AccountUseCase{}
	RegisterRoutes(router, awardUC, accountUC, auth.JWTMiddleware(testJWTSecret, ""), nil)
	return router
}

func TestCreditsRejectsLargeUpload(t *testing.T) {
	router := newTestRouter()

	token := buildTestToken(t, "123")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), "0.45")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sapling/credits", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestCreditsRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter()

	token := buildTestToken(t, "123")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), "0.45")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sapling/credits", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestCreditsRejectsMissingGSD(t *testing.T) {
	router := newTestRouter()

	token := buildTestToken(t, "123")
	body, contentType := buildMultipartBody(t, "image/jpeg", []byte("img"), "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sapling/credits", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestCreditsRequiresAuthentication(t *testing.T) {
	router := newTestRouter()

	body, contentType := buildMultipartBody(t, "image/jpeg", []byte("img"), "0.45")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sapling/credits", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, gsd string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if gsd != "" {
		if err := writer.WriteField("gsd", gsd); err != nil {
			t.Fatalf("failed to write gsd field: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
