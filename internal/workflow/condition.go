package workflow

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// StepOutcome 当前步骤的聚合结果，作为转移条件的求值环境
type StepOutcome struct {
	Action     string // 最后一次动作动词
	Approvals  int    // completed 执行数
	Rejections int    // rejected 执行数
	Total      int    // 该步骤执行总数
}

// EvaluateCondition 求值转移条件表达式
// 空条件视为恒真。可用变量: action, approvals, rejections, total
func EvaluateCondition(condition string, outcome StepOutcome) (bool, error) {
	expr := strings.TrimSpace(condition)
	if expr == "" {
		return true, nil
	}

	expression, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, fmt.Errorf("解析转移条件失败: %w", err)
	}

	parameters := map[string]interface{}{
		"action":     outcome.Action,
		"approvals":  outcome.Approvals,
		"rejections": outcome.Rejections,
		"total":      outcome.Total,
	}

	result, err := expression.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("求值转移条件失败: %w", err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("转移条件结果不是布尔值: %v", result)
	}
	return boolResult, nil
}
