package workflow

import (
	"fmt"
	"sort"

	"backend/internal/common"
)

// ValidateTemplate 发布前的模板结构校验
// 规则: 步骤序号严格递增；类型与元数据匹配；除末位步骤外均有出边
func ValidateTemplate(tpl *Template, maxSteps int) error {
	if len(tpl.Steps) == 0 {
		return common.ErrInvalidRequest("模板至少需要一个步骤")
	}
	if maxSteps > 0 && len(tpl.Steps) > maxSteps {
		return common.ErrInvalidRequest(fmt.Sprintf("模板步骤数超出上限 %d", maxSteps))
	}

	steps := make([]Step, len(tpl.Steps))
	copy(steps, tpl.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	stepIDs := make(map[string]bool, len(steps))
	for i, step := range steps {
		if i > 0 && step.StepOrder <= steps[i-1].StepOrder {
			return common.ErrInvalidRequest(fmt.Sprintf("步骤序号必须严格递增: 步骤 %q 序号 %d 与前一步冲突", step.Name, step.StepOrder))
		}
		stepIDs[step.ID] = true

		switch step.Type {
		case StepTypeUser:
			// 责任人允许在编辑期为空，启动时再校验
		case StepTypeDepartment:
			if step.DepartmentID == "" {
				return common.ErrInvalidRequest(fmt.Sprintf("部门步骤 %q 缺少部门", step.Name))
			}
		case StepTypeAction:
			if step.ActionType != ActionTypeApprove && step.ActionType != ActionTypeSign {
				return common.ErrInvalidRequest(fmt.Sprintf("动作步骤 %q 的动作类型无效: %s", step.Name, step.ActionType))
			}
			if len(step.TargetUsers) == 0 {
				return common.ErrInvalidRequest(fmt.Sprintf("动作步骤 %q 缺少目标用户", step.Name))
			}
		default:
			return common.ErrInvalidRequest(fmt.Sprintf("未知步骤类型: %s", step.Type))
		}
	}

	outgoing := make(map[string]int)
	for _, tr := range tpl.Transitions {
		if !stepIDs[tr.FromStepID] || !stepIDs[tr.ToStepID] {
			return common.ErrInvalidRequest("转移引用了不存在的步骤")
		}
		outgoing[tr.FromStepID]++
	}

	for i, step := range steps {
		if i == len(steps)-1 {
			continue
		}
		if outgoing[step.ID] == 0 {
			return common.ErrInvalidRequest(fmt.Sprintf("非末位步骤 %q 缺少出边转移", step.Name))
		}
	}

	return nil
}

// ValidateForStart 流程启动前的模板校验
// 每个 user 步骤必须已指定责任人
func ValidateForStart(tpl *Template) error {
	if tpl.Status != TemplateStatusPublished {
		return common.ErrInvalidState("模板尚未发布，不能启动流程")
	}
	for _, step := range tpl.Steps {
		if step.Type == StepTypeUser && step.AssignedUserID == "" {
			return common.ErrInvalidRequest(fmt.Sprintf("步骤 %q 缺少责任人", step.Name))
		}
	}
	return nil
}

// FirstStep 返回模板中序号最小的步骤
func FirstStep(tpl *Template) *Step {
	var first *Step
	for i := range tpl.Steps {
		if first == nil || tpl.Steps[i].StepOrder < first.StepOrder {
			first = &tpl.Steps[i]
		}
	}
	return first
}

// StepByID 按 ID 查找步骤
func StepByID(tpl *Template, stepID string) *Step {
	for i := range tpl.Steps {
		if tpl.Steps[i].ID == stepID {
			return &tpl.Steps[i]
		}
	}
	return nil
}
