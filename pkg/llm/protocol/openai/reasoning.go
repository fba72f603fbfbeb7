package openai

import "strings"

// ═══════════════════════════════════════════════════════════════════════════
// 推理模型参数适配
// ═══════════════════════════════════════════════════════════════════════════

// reasoningFamilies 推理模型族
//
// 按模型名小写后的整段或 "族-" 前缀匹配，"o1" 匹配 o1、o1-mini，不匹配 o10x。
// 推理模型只接受 temperature=1，且拒绝 top_p。
var reasoningFamilies = []string{"o1", "o3", "o4", "gpt-5", "deepseek-reasoner", "deepseek-r1"}

// IsReasoningModel 判断是否为推理模型
func IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, family := range reasoningFamilies {
		if m == family || strings.HasPrefix(m, family+"-") {
			return true
		}
	}
	return false
}

// AdaptTemperatureForModel 推理模型固定返回 1.0
func AdaptTemperatureForModel(model string, temperature float64) float64 {
	if IsReasoningModel(model) {
		return 1.0
	}
	return temperature
}

// ReasoningEffort reasoning_effort 取值
type ReasoningEffort string

const (
	ReasoningEffortMinimal ReasoningEffort = "minimal"
	ReasoningEffortLow     ReasoningEffort = "low"
	ReasoningEffortMedium  ReasoningEffort = "medium"
	ReasoningEffortHigh    ReasoningEffort = "high"
)

// 思考预算到力度的分界
const (
	lowBudget    = 1024
	mediumBudget = 8192
)

// EffortFor 将统一的思考参数映射为 reasoning_effort
//
//	EnableThinking=false   → minimal
//	budget ≤ 1024          → low
//	budget ≤ 8192          → medium
//	budget > 8192          → high
//
// 两者都未设置时返回空串，不写入请求。
func EffortFor(enable *bool, budget *int) ReasoningEffort {
	if enable != nil && !*enable {
		return ReasoningEffortMinimal
	}
	if budget == nil {
		return ""
	}
	switch b := *budget; {
	case b <= 0:
		return ReasoningEffortMinimal
	case b <= lowBudget:
		return ReasoningEffortLow
	case b <= mediumBudget:
		return ReasoningEffortMedium
	default:
		return ReasoningEffortHigh
	}
}
