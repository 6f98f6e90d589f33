package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/casepilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataEnricher_Merge(t *testing.T) {
	gen := &MockGenerator{Response: "好的，结果如下：\n```json\n" + `{
  "title": "",
  "industry": "制造业",
  "scenario": "智能质检",
  "technology": "深度学习",
  "description": "基于视觉的PCB缺陷检测",
  "metrics": {"mAP": "0.93", "单板检测时间": "<200ms"},
  "acceptance_standards": ["漏检率低于0.5%", "误报率低于2%"]
}` + "\n```"}
	e := NewMetadataEnricher(gen, "qwen-turbo", nil)
	base := models.CaseMetadata{Title: "PCB缺陷检测系统", Description: "rule based"}

	got := e.Enrich(context.Background(), strings.Repeat("文", 3000), base)
	assert.Equal(t, "PCB缺陷检测系统", got.Title, "blank enriched title keeps extracted one")
	assert.Equal(t, "制造业", got.Industry)
	assert.Equal(t, "智能质检", got.Scenario)
	assert.Equal(t, "基于视觉的PCB缺陷检测", got.Description)
	assert.Equal(t, "0.93", got.Metrics["mAP"])
	assert.Equal(t, "漏检率低于0.5%\n误报率低于2%", got.AcceptanceStandards)

	prompts, opts := gen.Calls()
	require.Len(t, prompts, 1)
	assert.Equal(t, Options{Model: "qwen-turbo", Temperature: 0.3, MaxTokens: 500}, opts[0])
	assert.Contains(t, prompts[0], "PCB缺陷检测系统")
	assert.Contains(t, prompts[0], "行业："+notExtractedMarker)
	assert.NotContains(t, prompts[0], strings.Repeat("文", 2001))
}

func TestMetadataEnricher_Fallback(t *testing.T) {
	base := models.CaseMetadata{Title: "t", Industry: "金融科技"}
	tests := []struct {
		name string
		gen  *MockGenerator
	}{
		{"provider error", &MockGenerator{Err: errors.New("quota exceeded")}},
		{"no json", &MockGenerator{Response: "抱歉，我无法处理"}},
		{"broken json", &MockGenerator{Response: `{"title": "x",`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMetadataEnricher(tt.gen, "m", nil).Enrich(context.Background(), "doc", base)
			assert.Equal(t, base, got)
		})
	}
}

func TestMockGenerator(t *testing.T) {
	m := NewMockGenerator()
	out, err := m.Generate(context.Background(), "\n 项目标题: 仓储盘点\n", Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "项目标题: 仓储盘点")
	assert.Contains(t, out, "<PROJECT_DATA>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Delay = time.Hour
	_, err = m.Generate(ctx, "p", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
