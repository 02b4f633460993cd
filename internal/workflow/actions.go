package workflow

import (
	"context"
	"fmt"
	"time"

	"backend/internal/common"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActParams 执行动作参数
type ActParams struct {
	ProcessID string
	Verb      string
	Comments  string
	// return 动词的目标步骤，为空时回退到上一序号步骤
	TargetStepID string
}

// allowedVerbs 按步骤类型/动作子类型返回合法动词表
// return 对任意步骤开放，权限单独校验
func allowedVerbs(step *Step) []string {
	switch step.Type {
	case StepTypeUser, StepTypeDepartment:
		return []string{VerbAdvance, VerbReturn}
	case StepTypeAction:
		switch step.ActionType {
		case ActionTypeApprove:
			return []string{VerbApprove, VerbReject, VerbReturn}
		case ActionTypeSign:
			return []string{VerbSign, VerbReturn}
		}
	}
	return nil
}

func verbAllowed(step *Step, verb string) bool {
	for _, v := range allowedVerbs(step) {
		if v == verb {
			return true
		}
	}
	return false
}

// Act 在流程当前步骤上执行动作
// 非法动词返回 InvalidAction；合法动词但调用者不是受派人返回 Forbidden
func (e *Engine) Act(ctx context.Context, tenantID, userID string, params ActParams) error {
	proc, err := e.loadProcess(ctx, tenantID, params.ProcessID)
	if err != nil {
		return err
	}
	if proc.Status != ProcessStatusActive {
		return common.ErrInvalidState("流程当前状态不接受动作: " + proc.Status)
	}

	tpl, err := e.templates.Get(ctx, tenantID, proc.TemplateID)
	if err != nil {
		return err
	}
	step := StepByID(tpl, proc.CurrentStepID)
	if step == nil {
		return common.ErrInconsistent("流程当前步骤不在模板中: " + proc.CurrentStepID)
	}

	if !verbAllowed(step, params.Verb) {
		return common.ErrInvalidAction(fmt.Sprintf("步骤 %q 不支持动作 %q", step.Name, params.Verb))
	}

	if params.Verb == VerbReturn {
		return e.returnToStep(ctx, tenantID, userID, proc, tpl, step, params)
	}

	var exec Execution
	err = e.DB.WithContext(ctx).
		Where("process_id = ? AND step_id = ? AND assigned_to = ?", proc.ID, step.ID, userID).
		First(&exec).Error
	if err != nil {
		return common.ErrForbidden("您不是该步骤的受派人")
	}
	if exec.IsTerminal() {
		return common.ErrInvalidState("该执行记录已处理")
	}

	// 多方签名步骤的签署转交给签名协调器，执行记录由定稿回调关闭
	if params.Verb == VerbSign && exec.SignRequestID != "" {
		if e.signatures == nil {
			return common.ErrUpstream("签名网关未配置")
		}
		return e.signatures.Decide(ctx, tenantID, exec.SignRequestID, userID, "approve", params.Comments)
	}

	newStatus := ExecutionStatusCompleted
	if params.Verb == VerbReject {
		newStatus = ExecutionStatusRejected
	}

	// 更新谓词带 pending，重复提交自然失效
	result := e.DB.WithContext(ctx).Model(&Execution{}).
		Where("id = ? AND status = ?", exec.ID, ExecutionStatusPending).
		Updates(map[string]any{
			"status":       newStatus,
			"action_taken": params.Verb,
			"comments":     params.Comments,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrInvalidState("该执行记录已处理")
	}

	// 单目标签署落一条简单签名审计记录
	if params.Verb == VerbSign && exec.SignRequestID == "" && e.signatures != nil {
		if _, err := e.signatures.RecordSimpleSignature(ctx, tenantID, proc.DocumentID, userID); err != nil {
			e.logger.Warn("简单签名记录写入失败",
				zap.String("processId", proc.ID),
				zap.String("userId", userID),
				zap.Error(err),
			)
		}
	}

	metrics.ExecutionActionsTotal.WithLabelValues(params.Verb, tenantID).Inc()
	e.logger.Info("执行动作完成",
		zap.String("processId", proc.ID),
		zap.String("stepId", step.ID),
		zap.String("verb", params.Verb),
		zap.String("userId", userID),
	)

	return e.advanceIfReady(ctx, tenantID, proc)
}

// returnToStep 退回到在先步骤
// 不修改已完成的执行记录，仅改写 current_step_id 并为目标步骤重新派发，
// 同时落一条 action_taken=return 的审计执行记录
func (e *Engine) returnToStep(ctx context.Context, tenantID, userID string, proc *Process, tpl *Template, current *Step, params ActParams) error {
	prior, err := e.isPriorAssignee(ctx, proc, current, tpl, userID)
	if err != nil {
		return err
	}
	isCurrent := e.isCurrentAssignee(ctx, proc, current, userID)
	if !prior && !isCurrent {
		return common.ErrForbidden("仅本步骤或在先步骤的受派人可退回")
	}

	target := e.resolveReturnTarget(tpl, current, params.TargetStepID)
	if target == nil {
		return common.ErrInvalidState("没有可退回的在先步骤")
	}

	executions, err := e.buildExecutions(ctx, tenantID, proc, target)
	if err != nil {
		return err
	}

	err = e.DB.WithContext(ctx).Model(&Process{}).
		Where("id = ?", proc.ID).
		Update("current_step_id", target.ID).Error
	if err != nil {
		return err
	}

	audit := Execution{
		ID:          uuid.New().String(),
		ProcessID:   proc.ID,
		StepID:      current.ID,
		AssignedTo:  userID,
		Status:      ExecutionStatusCompleted,
		ActionTaken: VerbReturn,
		Comments:    params.Comments,
		Metadata:    map[string]any{"returnedToStepId": target.ID},
	}
	if err := e.DB.WithContext(ctx).Create(&audit).Error; err != nil {
		return err
	}

	if len(executions) > 0 {
		if err := e.DB.WithContext(ctx).Create(&executions).Error; err != nil {
			return err
		}
	}

	e.notifyAssignees(ctx, tenantID, executions, "process.returned", "流程被退回: "+proc.Name)

	e.logger.Info("流程退回",
		zap.String("processId", proc.ID),
		zap.String("fromStepId", current.ID),
		zap.String("toStepId", target.ID),
		zap.String("userId", userID),
	)
	return nil
}

// resolveReturnTarget 解析退回目标，默认上一序号步骤；指定目标必须在当前步骤之前
func (e *Engine) resolveReturnTarget(tpl *Template, current *Step, targetStepID string) *Step {
	if targetStepID != "" {
		target := StepByID(tpl, targetStepID)
		if target == nil || target.StepOrder >= current.StepOrder {
			return nil
		}
		return target
	}

	var prev *Step
	for i := range tpl.Steps {
		s := &tpl.Steps[i]
		if s.StepOrder >= current.StepOrder {
			continue
		}
		if prev == nil || s.StepOrder > prev.StepOrder {
			prev = s
		}
	}
	return prev
}

// isPriorAssignee 调用者是否在当前步骤之前的步骤中持有已终态的执行记录
func (e *Engine) isPriorAssignee(ctx context.Context, proc *Process, current *Step, tpl *Template, userID string) (bool, error) {
	var priorStepIDs []string
	for _, s := range tpl.Steps {
		if s.StepOrder < current.StepOrder {
			priorStepIDs = append(priorStepIDs, s.ID)
		}
	}
	if len(priorStepIDs) == 0 {
		return false, nil
	}

	count, err := e.CountWhere(ctx, &Execution{},
		"process_id = ? AND step_id IN ? AND assigned_to = ? AND status IN ?",
		proc.ID, priorStepIDs, userID,
		[]string{ExecutionStatusCompleted, ExecutionStatusRejected},
	)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *Engine) isCurrentAssignee(ctx context.Context, proc *Process, current *Step, userID string) bool {
	count, err := e.CountWhere(ctx, &Execution{},
		"process_id = ? AND step_id = ? AND assigned_to = ?",
		proc.ID, current.ID, userID)
	return err == nil && count > 0
}
