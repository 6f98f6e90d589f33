package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/casepilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_Sections(t *testing.T) {
	long := strings.Repeat("检", 700)
	in := PromptInput{
		Input:      &models.UserInput{Title: "产线质检", Industry: "制造业", Technology: "计算机视觉", Objectives: "检测划痕"},
		Method:     models.InputForm,
		Benchmarks: baseBenchmarks,
		Cases: []*models.Case{
			{ID: "a", Title: "PCB缺陷检测", Metrics: map[string]interface{}{"漏检率": "0.3%", "mAP": 0.94}},
			{ID: "b", Title: "无指标案例"},
		},
		Contexts: []*models.Context{
			{CaseTitle: "PCB缺陷检测", CaseIndustry: "制造业", Content: long, Score: 0.8234},
			{CaseTitle: "ctx2", Content: "二", Score: 0.7},
			{CaseTitle: "ctx3", Content: "三", Score: 0.6},
			{CaseTitle: "ctx4", Content: "四", Score: 0.5},
		},
	}
	p := BuildPrompt(in)

	order := []string{
		"企业级AI解决方案架构师",
		"【数据利用指引】",
		"【用户需求（结构化表单方式）】",
		banner("全球行业基准数据（Web/SOTA 参考）"),
		banner("历史案例指标参考表"),
		"方案生成示例模板",
		"参考案例示例（RAG检索结果）",
		"生成规则与边界限制",
		"## 8. 附录",
	}
	last := -1
	for _, s := range order {
		i := strings.Index(p, s)
		require.GreaterOrEqual(t, i, 0, "missing section %q", s)
		assert.Greater(t, i, last, "section %q out of order", s)
		last = i
	}

	assert.Contains(t, p, "所属行业: 制造业")
	assert.Contains(t, p, "预算范围: "+notSpecified)
	assert.Contains(t, p, "| 推理延迟 | 100-200ms |")
	assert.Contains(t, p, "  - mAP: 0.94\n  - 漏检率: 0.3%")
	assert.NotContains(t, p, "无指标案例")
	assert.Contains(t, p, "相似度评分: 82.3%")
	assert.Contains(t, p, strings.Repeat("检", 600)+"...")
	assert.NotContains(t, p, strings.Repeat("检", 601))
	assert.Contains(t, p, "【检索案例3】ctx3")
	assert.NotContains(t, p, "ctx4")
	assert.Contains(t, p, "<PROJECT_DATA>")
	assert.Contains(t, p, "```mermaid")
	assert.Contains(t, p, "3. 如果两者存在差距")
}

func TestBuildPrompt_GuidanceFollowsAvailableTables(t *testing.T) {
	input := &models.UserInput{Title: "产线质检", Industry: "制造业"}
	withMetrics := []*models.Case{{ID: "a", Title: "PCB缺陷检测", Metrics: map[string]interface{}{"mAP": 0.94}}}

	onlyMetrics := BuildPrompt(PromptInput{Input: input, Method: models.InputForm, Cases: withMetrics})
	assert.NotContains(t, onlyMetrics, "《全球行业基准数据》")
	assert.Contains(t, onlyMetrics, "《历史案例指标参考表》")
	assert.Contains(t, onlyMetrics, "本次无可用的行业基准数据")

	onlyBenchmarks := BuildPrompt(PromptInput{Input: input, Method: models.InputForm, Benchmarks: baseBenchmarks})
	assert.Contains(t, onlyBenchmarks, "《全球行业基准数据》")
	assert.NotContains(t, onlyBenchmarks, "《历史案例指标参考表》")
	assert.Contains(t, onlyBenchmarks, "本次未检索到历史案例指标")
}

func TestBuildPrompt_TextInputWithoutContext(t *testing.T) {
	p := BuildPrompt(PromptInput{
		Input:  &models.UserInput{Title: "客服机器人", Description: "多轮对话"},
		Method: models.InputText,
	})
	assert.Contains(t, p, "【用户需求（文本描述方式）】\n项目标题: 客服机器人\n需求描述: 多轮对话")
	assert.NotContains(t, p, banner("全球行业基准数据（Web/SOTA 参考）"))
	assert.NotContains(t, p, "《全球行业基准数据》")
	assert.NotContains(t, p, "《历史案例指标参考表》")
	assert.Contains(t, p, "本次既无行业基准数据，也无历史案例指标")
	assert.Contains(t, p, noMetricsText)
	assert.Contains(t, p, noContextsText)
}

func TestBuildChatPrompt(t *testing.T) {
	input := &models.UserInput{Title: "t", Description: "d"}
	p := BuildChatPrompt(input, models.InputText, "方案内容", " 问题 ")
	assert.Contains(t, p, "项目标题：t\n项目描述：d")
	assert.Contains(t, p, "已生成的方案内容：\n方案内容")
	assert.Contains(t, p, "用户的新问题：\n问题\n")
}

func TestStaticBenchmarks(t *testing.T) {
	var src StaticBenchmarks
	plain, err := src.Benchmarks(context.Background(), "制造业")
	require.NoError(t, err)
	assert.Len(t, plain, 3)

	for _, k := range []string{"医疗健康", "AI诊断", "Medical imaging", "diagnosis"} {
		got, err := src.Benchmarks(context.Background(), k)
		require.NoError(t, err)
		require.Len(t, got, 4, k)
		assert.Equal(t, "≥85%", got[3].Value)
	}
	assert.Len(t, baseBenchmarks, 3, "base table is not mutated")
}

func TestBenchmarkKeyword(t *testing.T) {
	assert.Equal(t, "医疗", benchmarkKeyword(&models.UserInput{Title: "t", Industry: "医疗"}))
	assert.Equal(t, "t", benchmarkKeyword(&models.UserInput{Title: "t"}))
	assert.Equal(t, "AI解决方案", benchmarkKeyword(&models.UserInput{}))
}

func TestExtractEvaluationMetrics(t *testing.T) {
	cases := []*models.Case{
		{ID: "low", Title: "low", Metrics: map[string]interface{}{"acc": "90%"}},
		{ID: "none", Title: "none"},
		{ID: "high", Title: "high", AcceptanceStandards: "72小时稳定运行"},
	}
	contexts := []*models.Context{
		{CaseID: "high", Score: 0.9},
		{CaseID: "low", Score: 0.4},
		{CaseID: "low", Score: 0.55},
	}
	got := ExtractEvaluationMetrics(cases, contexts)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].CaseID)
	assert.Equal(t, "low", got[1].CaseID)
	assert.InDelta(t, 0.55, got[1].RelevanceScore, 1e-9)

	assert.Empty(t, ExtractEvaluationMetrics(nil, nil))
}
