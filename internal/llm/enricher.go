package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/pkg/utils"
	"go.uber.org/zap"
)

const (
	enrichInputChars   = 2000
	enrichTemperature  = 0.3
	enrichMaxTokens    = 500
	notExtractedMarker = "未提取"
)

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// MetadataEnricher asks a generator to complete the rule-based metadata of a case document.
type MetadataEnricher struct {
	gen    Generator
	model  string
	logger *zap.Logger
}

// NewMetadataEnricher creates an enricher that calls gen with model.
func NewMetadataEnricher(gen Generator, model string, logger *zap.Logger) *MetadataEnricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataEnricher{gen: gen, model: model, logger: logger}
}

// Enrich returns base overlaid with the non-empty fields the provider returns. Any provider
// or parse failure is logged and base is returned unchanged.
func (e *MetadataEnricher) Enrich(ctx context.Context, text string, base models.CaseMetadata) models.CaseMetadata {
	reply, err := e.gen.Generate(ctx, enrichPrompt(text, base), Options{
		Model:       e.model,
		Temperature: enrichTemperature,
		MaxTokens:   enrichMaxTokens,
	})
	if err != nil {
		e.logger.Warn("metadata enrichment failed, keeping extracted metadata", zap.Error(err))
		return base
	}
	enriched, err := parseMetadata(reply)
	if err != nil {
		e.logger.Warn("could not parse enriched metadata, keeping extracted metadata", zap.Error(err))
		return base
	}
	return merge(base, enriched)
}

func parseMetadata(reply string) (models.CaseMetadata, error) {
	var m models.CaseMetadata
	block := jsonObjectRe.FindString(reply)
	if block == "" {
		return m, fmt.Errorf("no JSON object in reply")
	}
	var raw struct {
		models.CaseMetadata
		// Providers sometimes return acceptance standards as a list.
		AcceptanceStandards json.RawMessage `json:"acceptance_standards"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return m, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	m = raw.CaseMetadata
	m.AcceptanceStandards = flattenStandards(raw.AcceptanceStandards)
	return m, nil
}

func flattenStandards(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "\n")
	}
	return ""
}

func merge(base, enriched models.CaseMetadata) models.CaseMetadata {
	pick := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	out := base
	pick(&out.Title, enriched.Title)
	pick(&out.Industry, enriched.Industry)
	pick(&out.Scenario, enriched.Scenario)
	pick(&out.Technology, enriched.Technology)
	pick(&out.Description, enriched.Description)
	pick(&out.AcceptanceStandards, enriched.AcceptanceStandards)
	if len(enriched.Metrics) > 0 {
		out.Metrics = enriched.Metrics
	}
	return out
}

func orMarker(s string) string {
	if strings.TrimSpace(s) == "" {
		return notExtractedMarker
	}
	return s
}

func enrichPrompt(text string, base models.CaseMetadata) string {
	var b strings.Builder
	b.WriteString("请分析以下项目文档内容，提取并补充项目的结构化信息。特别注意提取具体的评估指标（如准确率、mIoU、响应时间等数值）和验收标准。\n\n")
	fmt.Fprintf(&b, "文档内容（前%d字符）：\n%s\n\n", enrichInputChars, utils.Head(text, enrichInputChars))
	b.WriteString("当前提取的信息：\n")
	fmt.Fprintf(&b, "- 标题：%s\n- 行业：%s\n- 场景：%s\n- 技术类型：%s\n\n",
		orMarker(base.Title), orMarker(base.Industry), orMarker(base.Scenario), orMarker(base.Technology))
	b.WriteString(`请以JSON格式返回补充后的信息，格式如下：
{
  "title": "项目标题",
  "industry": "所属行业（如：制造业、医疗健康、金融科技等）",
  "scenario": "应用场景（如：AI风控、智能制造、AI诊断等）",
  "technology": "技术类型（如：机器学习、深度学习、物联网等）",
  "description": "项目描述（100-200字）",
  "metrics": {
    "指标名称1": "数值或描述",
    "指标名称2": "数值或描述"
  },
  "acceptance_standards": "具体的验收标准描述"
}

只返回JSON，不要其他内容：`)
	return b.String()
}
