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

// buildExecutions 为步骤解析受派人并构造执行记录
// action/sign 多目标步骤会同时注册多方签名请求
func (e *Engine) buildExecutions(ctx context.Context, tenantID string, proc *Process, step *Step) ([]Execution, error) {
	var assignees []string
	names := make(map[string]string)

	switch step.Type {
	case StepTypeUser:
		if step.AssignedUserID == "" {
			return nil, common.ErrInvalidRequest(fmt.Sprintf("步骤 %q 缺少责任人", step.Name))
		}
		assignees = []string{step.AssignedUserID}

	case StepTypeDepartment:
		users, err := e.directory.ListActiveUsersByDepartment(ctx, tenantID, step.DepartmentID)
		if err != nil {
			return nil, err
		}
		// 空部门无法产生任何执行记录，步骤会永远停滞，直接拒绝
		if len(users) == 0 {
			return nil, common.ErrInvalidState(fmt.Sprintf("部门步骤 %q 没有可指派的在职用户", step.Name))
		}
		for _, u := range users {
			assignees = append(assignees, u.ID)
			names[u.ID] = u.FullName
		}

	case StepTypeAction:
		if len(step.TargetUsers) == 0 {
			return nil, common.ErrInvalidRequest(fmt.Sprintf("动作步骤 %q 缺少目标用户", step.Name))
		}
		assignees = step.TargetUsers

	default:
		return nil, common.ErrInvalidRequest("未知步骤类型: " + step.Type)
	}

	// 补全受派人姓名用于历史展示
	if len(names) == 0 {
		users, err := e.directory.GetUsersByIDs(ctx, tenantID, assignees)
		if err == nil {
			for _, u := range users {
				names[u.ID] = u.FullName
			}
		}
	}

	signRequestID := ""
	if step.Type == StepTypeAction && step.ActionType == ActionTypeSign && len(step.TargetUsers) > 1 {
		if e.signatures == nil {
			return nil, common.ErrUpstream("签名网关未配置")
		}
		requestID, err := e.signatures.CreateRequest(ctx, tenantID, SignRequestParams{
			DocumentID:  proc.DocumentID,
			ProcessID:   proc.ID,
			RequestedBy: proc.StartedBy,
			SignerIDs:   step.TargetUsers,
		})
		if err != nil {
			return nil, err
		}
		signRequestID = requestID
	}

	executions := make([]Execution, 0, len(assignees))
	for _, userID := range assignees {
		executions = append(executions, Execution{
			ID:               uuid.New().String(),
			ProcessID:        proc.ID,
			StepID:           step.ID,
			AssignedTo:       userID,
			AssignedUserName: names[userID],
			Status:           ExecutionStatusPending,
			SignRequestID:    signRequestID,
		})
	}
	return executions, nil
}

// advanceIfReady 当前步骤全部执行到终态后推进流程
// 按转移条件解析下一步；无出边则流程完成
func (e *Engine) advanceIfReady(ctx context.Context, tenantID string, proc *Process) error {
	var executions []*Execution
	err := e.DB.WithContext(ctx).
		Where("process_id = ? AND step_id = ?", proc.ID, proc.CurrentStepID).
		Find(&executions).Error
	if err != nil {
		return err
	}

	outcome := StepOutcome{Total: len(executions)}
	for _, exec := range executions {
		switch exec.Status {
		case ExecutionStatusCompleted:
			outcome.Approvals++
			outcome.Action = exec.ActionTaken
		case ExecutionStatusRejected:
			outcome.Rejections++
			outcome.Action = exec.ActionTaken
		default:
			// 仍有在途执行，不推进
			return nil
		}
	}

	tpl, err := e.templates.Get(ctx, tenantID, proc.TemplateID)
	if err != nil {
		return err
	}

	next, err := e.resolveNextStep(tpl, proc.CurrentStepID, outcome)
	if err != nil {
		return err
	}
	if next == nil {
		return e.completeProcess(ctx, proc)
	}

	executionsNext, err := e.buildExecutions(ctx, tenantID, proc, next)
	if err != nil {
		return err
	}

	err = e.DB.WithContext(ctx).Model(&Process{}).
		Where("id = ?", proc.ID).
		Update("current_step_id", next.ID).Error
	if err != nil {
		return err
	}
	proc.CurrentStepID = next.ID

	if len(executionsNext) > 0 {
		if err := e.DB.WithContext(ctx).Create(&executionsNext).Error; err != nil {
			return err
		}
	}

	e.notifyAssignees(ctx, tenantID, executionsNext, "process.assigned", "您有新的流程任务: "+proc.Name)

	e.logger.Info("流程推进到下一步骤",
		zap.String("processId", proc.ID),
		zap.String("stepId", next.ID),
		zap.Int("executions", len(executionsNext)),
	)
	return nil
}

// resolveNextStep 按转移表解析下一步
// 规则: 按条件转移优先，第一条命中即选用；否则回退到唯一的无条件转移；无出边返回 nil
func (e *Engine) resolveNextStep(tpl *Template, currentStepID string, outcome StepOutcome) (*Step, error) {
	var unconditional []*Transition
	for i := range tpl.Transitions {
		tr := &tpl.Transitions[i]
		if tr.FromStepID != currentStepID {
			continue
		}
		if tr.Condition == "" {
			unconditional = append(unconditional, tr)
			continue
		}

		matched, err := EvaluateCondition(tr.Condition, outcome)
		if err != nil {
			return nil, common.ErrInvalidState("转移条件求值失败: " + err.Error())
		}
		if matched {
			next := StepByID(tpl, tr.ToStepID)
			if next == nil {
				return nil, common.ErrInconsistent("转移指向不存在的步骤: " + tr.ToStepID)
			}
			return next, nil
		}
	}

	if len(unconditional) == 0 {
		return nil, nil
	}
	if len(unconditional) > 1 {
		return nil, common.ErrInvalidState("存在多条无条件转移，无法确定下一步")
	}

	next := StepByID(tpl, unconditional[0].ToStepID)
	if next == nil {
		return nil, common.ErrInconsistent("转移指向不存在的步骤: " + unconditional[0].ToStepID)
	}
	return next, nil
}

func (e *Engine) completeProcess(ctx context.Context, proc *Process) error {
	now := time.Now().UTC()
	err := e.DB.WithContext(ctx).Model(&Process{}).
		Where("id = ? AND status = ?", proc.ID, ProcessStatusActive).
		Updates(map[string]any{
			"status":       ProcessStatusCompleted,
			"completed_at": now,
		}).Error
	if err != nil {
		return err
	}
	proc.Status = ProcessStatusCompleted
	proc.CompletedAt = &now

	metrics.ProcessesCompletedTotal.WithLabelValues(proc.TenantID).Inc()
	e.logger.Info("流程完成", zap.String("processId", proc.ID))

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, proc.TenantID, proc.StartedBy, "process.completed", "流程已完成: "+proc.Name); err != nil {
			e.logger.Warn("通知发送失败", zap.Error(err))
		}
	}
	return nil
}

// CompleteSignExecutions 多方签名定稿后回调
// 将该签名请求关联的在途执行记录全部置为完成并推进流程
func (e *Engine) CompleteSignExecutions(ctx context.Context, tenantID, signRequestID string) error {
	var executions []*Execution
	err := e.DB.WithContext(ctx).
		Where("sign_request_id = ? AND status = ?", signRequestID, ExecutionStatusPending).
		Find(&executions).Error
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err = e.DB.WithContext(ctx).Model(&Execution{}).
		Where("sign_request_id = ? AND status = ?", signRequestID, ExecutionStatusPending).
		Updates(map[string]any{
			"status":       ExecutionStatusCompleted,
			"action_taken": VerbSign,
			"updated_at":   now,
		}).Error
	if err != nil {
		return err
	}

	proc, err := e.loadProcess(ctx, tenantID, executions[0].ProcessID)
	if err != nil {
		return err
	}
	if proc.Status != ProcessStatusActive {
		return nil
	}
	return e.advanceIfReady(ctx, tenantID, proc)
}

// CancelSignExecutions 多方签名被拒后回调，对应执行记录置为拒绝
func (e *Engine) CancelSignExecutions(ctx context.Context, tenantID, signRequestID, comments string) error {
	var executions []*Execution
	err := e.DB.WithContext(ctx).
		Where("sign_request_id = ? AND status = ?", signRequestID, ExecutionStatusPending).
		Find(&executions).Error
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		return nil
	}

	err = e.DB.WithContext(ctx).Model(&Execution{}).
		Where("sign_request_id = ? AND status = ?", signRequestID, ExecutionStatusPending).
		Updates(map[string]any{
			"status":       ExecutionStatusRejected,
			"action_taken": VerbReject,
			"comments":     comments,
		}).Error
	if err != nil {
		return err
	}

	proc, err := e.loadProcess(ctx, tenantID, executions[0].ProcessID)
	if err != nil {
		return err
	}
	if proc.Status != ProcessStatusActive {
		return nil
	}
	return e.advanceIfReady(ctx, tenantID, proc)
}
