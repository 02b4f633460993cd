package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/document"
	"backend/internal/storage"
	"backend/internal/tenant"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type handlerEnv struct {
	db        *gorm.DB
	router    *gin.Engine
	templates *workflow.TemplateService
	documents *document.Service
	recorder  *audit.Recorder
}

// fakeGateway 签名网关桩实现，HTTP 层测试不关心签名细节
type fakeGateway struct{}

func (f *fakeGateway) CreateRequest(ctx context.Context, tenantID string, params workflow.SignRequestParams) (string, error) {
	return "req-1", nil
}

func (f *fakeGateway) Decide(ctx context.Context, tenantID, requestID, userID, action, comments string) error {
	return nil
}

func (f *fakeGateway) RecordSimpleSignature(ctx context.Context, tenantID, documentID, userID string) (string, error) {
	return "sig-1", nil
}

// testIdentity 按请求头注入用户身份，绕过 JWT 校验
func testIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-Test-User")
		tenantID := c.GetHeader("X-Test-Tenant")
		if userID == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(string(auth.UserContextKey), &auth.UserContext{UserID: userID, TenantID: tenantID})
		c.Next()
	}
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&workflow.Template{}, &workflow.Step{}, &workflow.Transition{},
		&workflow.Process{}, &workflow.Execution{},
		&tenant.Tenant{}, &tenant.Department{}, &tenant.User{},
		&document.Document{}, &audit.Log{},
	))

	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	storageCfg := &config.StorageConfig{
		SourceBucket:   storage.BucketDocuments,
		SignedBucket:   storage.BucketSigned,
		DownloadTTL:    1800,
		DownloadSecret: "test-secret",
	}

	templates := workflow.NewTemplateService(db, 50)
	directory := tenant.NewDirectoryService(db)
	documents := document.NewService(db, store, storageCfg)
	engine := workflow.NewEngine(db, templates, directory, documents,
		workflow.WithSignatureGateway(&fakeGateway{}),
	)
	recorder := audit.NewRecorder(db, 16)
	t.Cleanup(recorder.Close)

	handler := NewProcessHandler(engine, recorder)

	router := gin.New()
	group := router.Group("/api/v1", testIdentity())
	group.POST("/workflows", handler.Start)
	group.GET("/workflows", handler.List)
	group.GET("/workflows/:id", handler.Get)
	group.POST("/workflows/:id/actions", handler.Act)
	group.DELETE("/workflows/:id", handler.Delete)

	return &handlerEnv{db: db, router: router, templates: templates, documents: documents, recorder: recorder}
}

func (env *handlerEnv) do(t *testing.T, method, path, userID, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID)
	req.Header.Set("X-Test-Tenant", tenantID)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// seedTemplate 建两步直线模板并发布
func (env *handlerEnv) seedTemplate(t *testing.T, tenantID string, assignees ...string) *workflow.Template {
	steps := make([]workflow.StepInput, 0, len(assignees))
	transitions := make([]workflow.TransitionInput, 0, len(assignees))
	for i, userID := range assignees {
		steps = append(steps, workflow.StepInput{
			Name:           fmt.Sprintf("步骤%d", i+1),
			Type:           workflow.StepTypeUser,
			StepOrder:      i + 1,
			AssignedUserID: userID,
		})
		if i > 0 {
			transitions = append(transitions, workflow.TransitionInput{FromOrder: i, ToOrder: i + 1})
		}
	}

	tpl, err := env.templates.Create(context.Background(), tenantID, workflow.CreateTemplateParams{
		Name:        "直线审批",
		CreatedBy:   "owner",
		Steps:       steps,
		Transitions: transitions,
	})
	require.NoError(t, err)

	tpl, err = env.templates.Publish(context.Background(), tenantID, tpl.ID)
	require.NoError(t, err)
	return tpl
}

func (env *handlerEnv) seedDocument(t *testing.T, tenantID string) *document.Document {
	doc, err := env.documents.Upload(context.Background(), tenantID, document.UploadParams{
		Name:       "contract.pdf",
		Content:    []byte("%PDF-1.4 test"),
		UploadedBy: "owner",
	})
	require.NoError(t, err)
	return doc
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func TestStartAndAdvanceOverHTTP(t *testing.T) {
	env := newHandlerEnv(t)

	doc := env.seedDocument(t, "t-1")
	tpl := env.seedTemplate(t, "t-1", "u-1", "u-2")

	w := env.do(t, http.MethodPost, "/api/v1/workflows", "owner", "t-1", gin.H{
		"templateId": tpl.ID,
		"documentId": doc.ID,
		"name":       "合同审批",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)

	var proc workflow.Process
	require.NoError(t, json.Unmarshal(envelope.Data, &proc))
	require.Equal(t, workflow.ProcessStatusActive, proc.Status)

	// 两个步骤依次推进后流程完成
	w = env.do(t, http.MethodPost, "/api/v1/workflows/"+proc.ID+"/actions", "u-1", "t-1", gin.H{"verb": "advance"})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/workflows/"+proc.ID+"/actions", "u-2", "t-1", gin.H{"verb": "advance"})
	require.Equal(t, http.StatusOK, w.Code)

	var stored workflow.Process
	require.NoError(t, env.db.First(&stored, "id = ?", proc.ID).Error)
	require.Equal(t, workflow.ProcessStatusCompleted, stored.Status)
}

func TestActByOutsiderIsForbidden(t *testing.T) {
	env := newHandlerEnv(t)

	doc := env.seedDocument(t, "t-1")
	tpl := env.seedTemplate(t, "t-1", "u-1")

	w := env.do(t, http.MethodPost, "/api/v1/workflows", "owner", "t-1", gin.H{
		"templateId": tpl.ID,
		"documentId": doc.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	var proc workflow.Process
	require.NoError(t, json.Unmarshal(envelope.Data, &proc))

	w = env.do(t, http.MethodPost, "/api/v1/workflows/"+proc.ID+"/actions", "intruder", "t-1", gin.H{"verb": "advance"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestActWithIllegalVerbIsRejected(t *testing.T) {
	env := newHandlerEnv(t)

	doc := env.seedDocument(t, "t-1")
	tpl := env.seedTemplate(t, "t-1", "u-1")

	w := env.do(t, http.MethodPost, "/api/v1/workflows", "owner", "t-1", gin.H{
		"templateId": tpl.ID,
		"documentId": doc.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	var proc workflow.Process
	require.NoError(t, json.Unmarshal(envelope.Data, &proc))

	// user 步骤不允许 sign 动词
	w = env.do(t, http.MethodPost, "/api/v1/workflows/"+proc.ID+"/actions", "u-1", "t-1", gin.H{"verb": "sign"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListProcessesScopeOverHTTP(t *testing.T) {
	env := newHandlerEnv(t)

	doc := env.seedDocument(t, "t-1")
	tpl := env.seedTemplate(t, "t-1", "u-1")

	w := env.do(t, http.MethodPost, "/api/v1/workflows", "owner", "t-1", gin.H{
		"templateId": tpl.ID,
		"documentId": doc.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// 被指派人用 assigned 范围能看到流程，mine 范围看不到
	w = env.do(t, http.MethodGet, "/api/v1/workflows?scope=assigned", "u-1", "t-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), tpl.ID)

	w = env.do(t, http.MethodGet, "/api/v1/workflows?scope=mine", "u-1", "t-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), tpl.ID)
}
