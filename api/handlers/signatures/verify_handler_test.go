package signatures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newVerifyRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&signature.MultiSignatureRequest{},
		&signature.MultiSignatureApproval{},
		&signature.DocumentSignature{},
	))

	verification := signature.NewVerificationService(db, &config.SignatureConfig{VerificationDays: 365})
	handler := NewVerifyHandler(verification)

	router := gin.New()
	router.POST("/api/v1/verify-signature", handler.Verify)
	router.GET("/api/v1/verify/:code", handler.VerifyByCode)
	return router, db
}

func postVerify(t *testing.T, router *gin.Engine, code string) *httptest.ResponseRecorder {
	body, err := json.Marshal(gin.H{"verificationCode": code})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify-signature", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestVerifySignatureOverHTTP(t *testing.T) {
	router, db := newVerifyRouter(t)

	require.NoError(t, db.Create(&signature.DocumentSignature{
		ID:               "sig-1",
		TenantID:         "t-1",
		UserID:           "u-1",
		DocumentID:       "doc-1",
		SignatureType:    signature.SignatureTypeMultiple,
		Status:           "completed",
		VerificationCode: "TD-AAAA1111BBBB2222",
		SignerName:       "张三",
		SignerEmail:      "zhangsan@example.com",
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}).Error)

	w := postVerify(t, router, "TD-AAAA1111BBBB2222")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"valid":true`)
	require.Contains(t, w.Body.String(), "张三")

	// GET 路径返回同样结果
	req := httptest.NewRequest(http.MethodGet, "/api/v1/verify/TD-AAAA1111BBBB2222", nil)
	get := httptest.NewRecorder()
	router.ServeHTTP(get, req)
	require.Equal(t, http.StatusOK, get.Code)
	require.Contains(t, get.Body.String(), `"valid":true`)
}

func TestVerifyUnknownCodeReturns404(t *testing.T) {
	router, _ := newVerifyRouter(t)

	w := postVerify(t, router, "TD-DOESNOTEXIST0000")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"success":false`)
}
