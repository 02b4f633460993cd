package workflow

import (
	"context"
	"fmt"
	"testing"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/document"
	"backend/internal/storage"
	"backend/internal/tenant"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&Template{}, &Step{}, &Transition{}, &Process{}, &Execution{},
		&tenant.Tenant{}, &tenant.Department{}, &tenant.User{},
		&document.Document{},
	))
	return db
}

// fakeGateway 签名网关桩实现
type fakeGateway struct {
	requests  []SignRequestParams
	decisions []string
	simple    []string
}

func (f *fakeGateway) CreateRequest(ctx context.Context, tenantID string, params SignRequestParams) (string, error) {
	f.requests = append(f.requests, params)
	return fmt.Sprintf("req-%d", len(f.requests)), nil
}

func (f *fakeGateway) Decide(ctx context.Context, tenantID, requestID, userID, action, comments string) error {
	f.decisions = append(f.decisions, requestID+":"+userID+":"+action)
	return nil
}

func (f *fakeGateway) RecordSimpleSignature(ctx context.Context, tenantID, documentID, userID string) (string, error) {
	f.simple = append(f.simple, documentID+":"+userID)
	return "sig-1", nil
}

type testEnv struct {
	db        *gorm.DB
	engine    *Engine
	templates *TemplateService
	directory *tenant.DirectoryService
	documents *document.Service
	gateway   *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	db := openTestDB(t)

	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	storageCfg := &config.StorageConfig{
		SourceBucket:   storage.BucketDocuments,
		SignedBucket:   storage.BucketSigned,
		DownloadTTL:    1800,
		DownloadSecret: "test-secret",
	}

	templates := NewTemplateService(db, 50)
	directory := tenant.NewDirectoryService(db)
	documents := document.NewService(db, store, storageCfg)
	gateway := &fakeGateway{}

	engine := NewEngine(db, templates, directory, documents, WithSignatureGateway(gateway))
	return &testEnv{db: db, engine: engine, templates: templates, directory: directory, documents: documents, gateway: gateway}
}

func (env *testEnv) uploadDoc(t *testing.T, tenantID string) *document.Document {
	doc, err := env.documents.Upload(context.Background(), tenantID, document.UploadParams{
		Name:       "contract.pdf",
		Content:    []byte("%PDF-1.4 test"),
		UploadedBy: "owner",
	})
	require.NoError(t, err)
	return doc
}

// linearTemplate 构造 n 个 user 步骤的无条件直线模板并发布
func (env *testEnv) linearTemplate(t *testing.T, tenantID string, assignees ...string) *Template {
	steps := make([]StepInput, 0, len(assignees))
	transitions := make([]TransitionInput, 0, len(assignees))
	for i, userID := range assignees {
		steps = append(steps, StepInput{
			Name:           fmt.Sprintf("步骤%d", i+1),
			Type:           StepTypeUser,
			StepOrder:      i + 1,
			AssignedUserID: userID,
		})
		if i > 0 {
			transitions = append(transitions, TransitionInput{FromOrder: i, ToOrder: i + 1})
		}
	}

	tpl, err := env.templates.Create(context.Background(), tenantID, CreateTemplateParams{
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

func TestLinearProcessCompletesAfterAllSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1", "u-2", "u-3")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID,
		DocumentID: doc.ID,
		Name:       "合同审批",
		StartedBy:  "owner",
	})
	require.NoError(t, err)
	require.Equal(t, ProcessStatusActive, proc.Status)

	// 三个步骤逐一推进后流程完成
	for _, userID := range []string{"u-1", "u-2", "u-3"} {
		require.NoError(t, env.engine.Act(ctx, "t-1", userID, ActParams{
			ProcessID: proc.ID,
			Verb:      VerbAdvance,
		}))
	}

	detail, err := env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	require.Equal(t, ProcessStatusCompleted, detail.Process.Status)
	require.NotNil(t, detail.Process.CompletedAt)
	require.Len(t, detail.Executions, 3)
}

func TestActRejectsNonAssignee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1", "u-2")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	err = env.engine.Act(ctx, "t-1", "intruder", ActParams{ProcessID: proc.ID, Verb: VerbAdvance})
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeForbidden, bizErr.Code)
}

func TestActRejectsIllegalVerb(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1", "u-2")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	// user 步骤不支持 approve
	err = env.engine.Act(ctx, "t-1", "u-1", ActParams{ProcessID: proc.ID, Verb: VerbApprove})
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInvalidAction, bizErr.Code)
}

func TestDeleteCompletedProcessGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)
	require.NoError(t, env.engine.Act(ctx, "t-1", "u-1", ActParams{ProcessID: proc.ID, Verb: VerbAdvance}))

	err = env.engine.DeleteProcess(ctx, "t-1", proc.ID, "owner")
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInvalidState, bizErr.Code)

	// 流程行仍在
	_, err = env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
}

func TestDeleteProcessOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	err = env.engine.DeleteProcess(ctx, "t-1", proc.ID, "someone-else")
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeForbidden, bizErr.Code)

	require.NoError(t, env.engine.DeleteProcess(ctx, "t-1", proc.ID, "owner"))
}

func TestConditionalBranching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")

	// 审批步骤按结果分流: 拒绝 → 整改步骤, 同意 → 归档步骤
	tpl, err := env.templates.Create(ctx, "t-1", CreateTemplateParams{
		Name:      "分支审批",
		CreatedBy: "owner",
		Steps: []StepInput{
			{Name: "审批", Type: StepTypeAction, StepOrder: 1, ActionType: ActionTypeApprove, TargetUsers: []string{"approver"}},
			{Name: "整改", Type: StepTypeUser, StepOrder: 2, AssignedUserID: "fixer"},
			{Name: "归档", Type: StepTypeUser, StepOrder: 3, AssignedUserID: "archiver"},
		},
		Transitions: []TransitionInput{
			{FromOrder: 1, ToOrder: 2, Condition: `action == "reject"`},
			{FromOrder: 1, ToOrder: 3, Condition: `action == "approve"`},
			{FromOrder: 2, ToOrder: 3},
		},
	})
	require.NoError(t, err)
	_, err = env.templates.Publish(ctx, "t-1", tpl.ID)
	require.NoError(t, err)

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.Act(ctx, "t-1", "approver", ActParams{
		ProcessID: proc.ID, Verb: VerbReject, Comments: "材料不全",
	}))

	detail, err := env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	fixStep := StepByID(detail.Template, detail.Process.CurrentStepID)
	require.Equal(t, "整改", fixStep.Name)
}

func TestMultiSignStepRegistersRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")

	tpl, err := env.templates.Create(ctx, "t-1", CreateTemplateParams{
		Name:      "多方签署",
		CreatedBy: "owner",
		Steps: []StepInput{
			{Name: "签署", Type: StepTypeAction, StepOrder: 1, ActionType: ActionTypeSign, TargetUsers: []string{"s-1", "s-2", "s-3"}},
		},
	})
	require.NoError(t, err)
	_, err = env.templates.Publish(ctx, "t-1", tpl.ID)
	require.NoError(t, err)

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	require.Len(t, env.gateway.requests, 1)
	require.Equal(t, []string{"s-1", "s-2", "s-3"}, env.gateway.requests[0].SignerIDs)

	// 签署动词转交签名协调器，执行记录保持 pending
	require.NoError(t, env.engine.Act(ctx, "t-1", "s-1", ActParams{ProcessID: proc.ID, Verb: VerbSign}))
	require.Len(t, env.gateway.decisions, 1)

	detail, err := env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	for _, exec := range detail.Executions {
		require.Equal(t, ExecutionStatusPending, exec.Status)
	}

	// 定稿回调后执行记录全部完成，流程结束
	require.NoError(t, env.engine.CompleteSignExecutions(ctx, "t-1", "req-1"))
	detail, err = env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	require.Equal(t, ProcessStatusCompleted, detail.Process.Status)
	for _, exec := range detail.Executions {
		require.Equal(t, ExecutionStatusCompleted, exec.Status)
	}
}

func TestReturnVerbRewindsProcess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1", "u-2")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)
	require.NoError(t, env.engine.Act(ctx, "t-1", "u-1", ActParams{ProcessID: proc.ID, Verb: VerbAdvance}))

	// u-2 把流程退回给 u-1
	require.NoError(t, env.engine.Act(ctx, "t-1", "u-2", ActParams{
		ProcessID: proc.ID, Verb: VerbReturn, Comments: "请补充附件",
	}))

	detail, err := env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	back := StepByID(detail.Template, detail.Process.CurrentStepID)
	require.Equal(t, "步骤1", back.Name)

	// 已完成的执行记录未被改写，另有一条 return 审计记录和一条新派发
	var returned, completed, pending int
	for _, exec := range detail.Executions {
		switch {
		case exec.ActionTaken == VerbReturn:
			returned++
		case exec.Status == ExecutionStatusCompleted:
			completed++
		case exec.Status == ExecutionStatusPending:
			pending++
		}
	}
	require.Equal(t, 1, returned)
	require.Equal(t, 1, completed)
	require.Equal(t, 1, pending)
}

func TestStartProcessRequiresResponsibleUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")

	tpl, err := env.templates.Create(ctx, "t-1", CreateTemplateParams{
		Name:      "缺责任人",
		CreatedBy: "owner",
		Steps:     []StepInput{{Name: "审核", Type: StepTypeUser, StepOrder: 1}},
	})
	require.NoError(t, err)
	_, err = env.templates.Publish(ctx, "t-1", tpl.ID)
	require.NoError(t, err)

	_, err = env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInvalidRequest, bizErr.Code)
}

func TestListProcessesScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1")

	mine, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)
	_, err = env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "other",
	})
	require.NoError(t, err)

	views, total, err := env.engine.ListProcesses(ctx, "t-1", "owner", ScopeMine, common.DefaultPagination())
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, mine.ID, views[0].ID)
	require.NotEmpty(t, views[0].DocumentURL)

	// u-1 在两个流程中都有执行记录
	_, total, err = env.engine.ListProcesses(ctx, "t-1", "u-1", ScopeAssigned, common.DefaultPagination())
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.uploadDoc(t, "t-1")
	tpl := env.linearTemplate(t, "t-1", "u-1")

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.PauseProcess(ctx, "t-1", proc.ID, "owner"))

	// 暂停期间不接受动作
	err = env.engine.Act(ctx, "t-1", "u-1", ActParams{ProcessID: proc.ID, Verb: VerbAdvance})
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInvalidState, bizErr.Code)

	require.NoError(t, env.engine.ResumeProcess(ctx, "t-1", proc.ID, "owner"))
	require.NoError(t, env.engine.Act(ctx, "t-1", "u-1", ActParams{ProcessID: proc.ID, Verb: VerbAdvance}))
}

// departmentTemplate 构造单个部门会签步骤的模板并发布
func (env *testEnv) departmentTemplate(t *testing.T, tenantID, departmentID string) *Template {
	tpl, err := env.templates.Create(context.Background(), tenantID, CreateTemplateParams{
		Name:      "部门会签",
		CreatedBy: "owner",
		Steps: []StepInput{
			{Name: "会签", Type: StepTypeDepartment, StepOrder: 1, DepartmentID: departmentID},
		},
	})
	require.NoError(t, err)

	tpl, err = env.templates.Publish(context.Background(), tenantID, tpl.ID)
	require.NoError(t, err)
	return tpl
}

func (env *testEnv) seedDeptMembers(t *testing.T, tenantID, departmentID string, n int) []string {
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		u, err := env.directory.CreateUser(context.Background(), tenantID, tenant.CreateUserParams{
			Email:        fmt.Sprintf("member%d@x.io", i),
			Username:     fmt.Sprintf("member%d", i),
			Password:     "password1",
			FullName:     fmt.Sprintf("成员%d", i),
			DepartmentID: departmentID,
		})
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestDepartmentStepFansOutToActiveUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dept, err := env.directory.CreateDepartment(ctx, "t-1", "法务部", "legal", "")
	require.NoError(t, err)
	members := env.seedDeptMembers(t, "t-1", dept.ID, 3)

	// 禁用一名成员，派发时应被跳过
	require.NoError(t, env.directory.DisableUser(ctx, "t-1", members[2]))

	doc := env.uploadDoc(t, "t-1")
	tpl := env.departmentTemplate(t, "t-1", dept.ID)

	proc, err := env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, Name: "部门会签", StartedBy: "owner",
	})
	require.NoError(t, err)

	// 每个在职成员一条执行记录，姓名已冗余
	detail, err := env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	require.Len(t, detail.Executions, 2)
	assigned := make(map[string]string)
	for _, exec := range detail.Executions {
		assigned[exec.AssignedTo] = exec.AssignedUserName
	}
	require.Equal(t, "成员1", assigned[members[0]])
	require.Equal(t, "成员2", assigned[members[1]])
	require.NotContains(t, assigned, members[2])

	// 一人推进后流程仍在等待其余成员
	require.NoError(t, env.engine.Act(ctx, "t-1", members[0], ActParams{ProcessID: proc.ID, Verb: VerbAdvance}))
	detail, err = env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	require.Equal(t, ProcessStatusActive, detail.Process.Status)

	require.NoError(t, env.engine.Act(ctx, "t-1", members[1], ActParams{ProcessID: proc.ID, Verb: VerbAdvance}))
	detail, err = env.engine.GetProcess(ctx, "t-1", proc.ID)
	require.NoError(t, err)
	require.Equal(t, ProcessStatusCompleted, detail.Process.Status)
}

func TestDepartmentStepWithoutActiveUsersFailsFast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dept, err := env.directory.CreateDepartment(ctx, "t-1", "空部门", "empty", "")
	require.NoError(t, err)

	doc := env.uploadDoc(t, "t-1")
	tpl := env.departmentTemplate(t, "t-1", dept.ID)

	// 空部门无法派发任何执行记录，启动直接失败
	_, err = env.engine.StartProcess(ctx, "t-1", StartProcessParams{
		TemplateID: tpl.ID, DocumentID: doc.ID, StartedBy: "owner",
	})
	var bizErr *common.BusinessError
	require.ErrorAs(t, err, &bizErr)
	require.Equal(t, common.CodeInvalidState, bizErr.Code)
}
