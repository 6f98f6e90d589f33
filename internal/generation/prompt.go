// Package generation turns retrieved case context into a generated proposal and manages
// the lifecycle of solution tasks.
package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/casepilot/internal/models"
	"github.com/hyperjump/casepilot/pkg/utils"
)

const (
	promptContexts     = 3
	promptContextChars = 600
	noMetricsText      = "暂无历史案例指标数据"
	noContextsText     = "未检索到相关的历史参考案例，请基于行业通用实践生成方案。"
	notProvided        = "未提供"
	notSpecified       = "未指定"
	unknown            = "未知"
)

var divider = strings.Repeat("─", 60)

// PromptInput carries everything the proposal prompt is assembled from.
type PromptInput struct {
	Input      *models.UserInput
	Method     models.InputMethod
	Benchmarks []Benchmark
	// Cases are the related cases whose metrics form the historical table.
	Cases    []*models.Case
	Contexts []*models.Context
}

// BuildPrompt assembles the proposal prompt. Empty benchmarks, cases or contexts degrade to
// placeholder text so the prompt stays well formed.
func BuildPrompt(in PromptInput) string {
	benchmarks := benchmarkTable(in.Benchmarks)
	metrics := metricsTable(in.Cases)
	parts := []string{
		rolePreamble,
		instructions(benchmarks != "", metrics != noMetricsText),
		userRequirement(in.Input, in.Method),
		benchmarks,
		metrics,
		workedExamples,
		contextBlock(in.Contexts),
		contextUsage,
		outputRules,
		closing,
	}
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}

// NotReadyReply is the chat answer while a task is still generating.
const NotReadyReply = "方案正在生成中，请稍后再提问。"

// BuildChatPrompt asks for an answer to a follow-up question about a generated proposal.
func BuildChatPrompt(input *models.UserInput, method models.InputMethod, content, message string) string {
	var req string
	if method == models.InputText {
		req = fmt.Sprintf("项目标题：%s\n项目描述：%s", input.Title, input.Description)
	} else {
		req = fmt.Sprintf("项目标题：%s\n所属行业：%s\n技术方向：%s\n项目目标：%s",
			input.Title, input.Industry, input.Technology, input.Objectives)
	}
	return fmt.Sprintf(`你是一位专业的项目方案顾问。用户已经生成了一个项目方案，现在用户针对这个方案提出了新的问题。

原始项目需求：
%s

已生成的方案内容：
%s

用户的新问题：
%s

请基于已生成的方案内容，专业、详细地回答用户的问题。如果问题涉及方案的修改或补充，请提供具体的建议。回答要清晰、有条理，使用专业术语。

回答：`, req, content, strings.TrimSpace(message))
}

func banner(title string) string {
	line := strings.Repeat("═", 66)
	return "╔" + line + "╗\n  " + title + "\n╚" + line + "╝"
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func userRequirement(input *models.UserInput, method models.InputMethod) string {
	if input == nil {
		input = &models.UserInput{}
	}
	var b strings.Builder
	if method == models.InputText {
		b.WriteString("【用户需求（文本描述方式）】\n")
		fmt.Fprintf(&b, "项目标题: %s\n", or(input.Title, notProvided))
		fmt.Fprintf(&b, "需求描述: %s", or(input.Description, notProvided))
		return b.String()
	}
	b.WriteString("【用户需求（结构化表单方式）】\n")
	fmt.Fprintf(&b, "项目标题: %s\n", or(input.Title, notProvided))
	fmt.Fprintf(&b, "所属行业: %s\n", or(input.Industry, notSpecified))
	fmt.Fprintf(&b, "技术方向: %s\n", or(input.Technology, notSpecified))
	if input.Scenario != "" {
		fmt.Fprintf(&b, "应用场景: %s\n", input.Scenario)
	}
	fmt.Fprintf(&b, "预算范围: %s\n", or(input.Budget, notSpecified))
	fmt.Fprintf(&b, "项目目标: %s\n", or(input.Objectives, notProvided))
	fmt.Fprintf(&b, "技术要求: %s\n", or(input.Requirements, notProvided))
	fmt.Fprintf(&b, "时间周期: %s", or(input.Timeline, notSpecified))
	return b.String()
}

func benchmarkTable(benchmarks []Benchmark) string {
	if len(benchmarks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(banner("全球行业基准数据（Web/SOTA 参考）"))
	b.WriteString("\n\n| 核心指标项 | 行业标准/SOTA值 | 权威来源 |\n|-----------|----------------|---------|\n")
	for _, m := range benchmarks {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", m.Metric, m.Value, m.Source)
	}
	b.WriteString("\n⚠️ 专家提示：\n")
	b.WriteString("- 上述数据代表行业目前的“理论最优值”或“通用准则”\n")
	b.WriteString("- 本方案目标应综合考虑落地成本与上述基准值的平衡")
	return b.String()
}

func metricsTable(cases []*models.Case) string {
	var entries []string
	for _, c := range cases {
		if c == nil || !c.HasEvaluationData() {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "【案例%d】%s\n", len(entries)+1, c.Title)
		fmt.Fprintf(&b, "├─ 行业: %s\n", or(c.Industry, unknown))
		fmt.Fprintf(&b, "├─ 技术: %s\n", or(c.Technology, unknown))
		b.WriteString("├─ 核心指标:\n")
		if len(c.Metrics) == 0 {
			b.WriteString("  - 暂无结构化指标\n")
		}
		for _, k := range sortedKeys(c.Metrics) {
			fmt.Fprintf(&b, "  - %s: %v\n", k, c.Metrics[k])
		}
		fmt.Fprintf(&b, "└─ 验收标准: %s", or(c.AcceptanceStandards, "参见案例文档"))
		entries = append(entries, b.String())
	}
	if len(entries) == 0 {
		return noMetricsText
	}
	return banner("历史案例指标参考表") + "\n\n" + strings.Join(entries, "\n\n") + `

⚠️ 重要说明：
- 上述指标为历史案例的实际达成值，可作为本方案的"性能天花板"参考
- 基准线通常为行业平均水平的80%，最优值为历史最佳的110%
- 请在生成方案时，明确引用这些数值并给出本方案的预期目标`
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contextBlock(contexts []*models.Context) string {
	if len(contexts) == 0 {
		return banner("参考案例示例（RAG检索结果）") + "\n\n" + noContextsText
	}
	if len(contexts) > promptContexts {
		contexts = contexts[:promptContexts]
	}
	entries := make([]string, 0, len(contexts))
	for i, c := range contexts {
		entries = append(entries, fmt.Sprintf("【检索案例%d】%s\n├─ 相似度评分: %.1f%%\n├─ 行业场景: %s / %s\n├─ 核心技术: %s\n└─ 内容摘要:\n%s",
			i+1, or(c.CaseTitle, unknown), c.Score*100,
			or(c.CaseIndustry, unknown), or(c.CaseScenario, unknown), or(c.CaseTechnology, unknown),
			utils.Truncate(c.Content, promptContextChars)))
	}
	return banner("参考案例示例（RAG检索结果）") + "\n\n" + strings.Join(entries, "\n"+divider+"\n")
}

const rolePreamble = `你是一位顶尖的企业级AI解决方案架构师（Enterprise Solution Architect Agent）。
你具备极强的商业洞察力和工程落地能力，擅长将最前沿的AI技术与实际业务场景相结合。
你的回答风格应当是：严谨、专业、客观，避免夸大其词，所有结论都应有数据支撑。`

const taskStatement = `【核心任务】
请为用户生成一份详尽、可落地的技术解决方案。
你需要平衡“行业SOTA指标”与“实际工程落地指标”。`

// instructions points the model only at the data tables the prompt actually carries.
func instructions(hasBenchmarks, hasMetrics bool) string {
	var b strings.Builder
	b.WriteString(taskStatement)
	b.WriteString("\n\n【数据利用指引】\n")
	switch {
	case hasBenchmarks && hasMetrics:
		b.WriteString("1. 参考下方的《全球行业基准数据》，这代表了行业目前的最高水平。\n")
		b.WriteString("2. 参考下方的《历史案例指标参考表》，这代表了我们在实际项目中达成的落地数据。\n")
		b.WriteString("3. 如果两者存在差距，请在方案中进行专业分析，并给出本方案的预期目标。")
	case hasBenchmarks:
		b.WriteString("1. 参考下方的《全球行业基准数据》，这代表了行业目前的最高水平。\n")
		b.WriteString("2. 本次未检索到历史案例指标，请以基准数据为参照，结合落地成本给出本方案的预期目标。")
	case hasMetrics:
		b.WriteString("1. 参考下方的《历史案例指标参考表》，这代表了我们在实际项目中达成的落地数据。\n")
		b.WriteString("2. 本次无可用的行业基准数据，请以历史落地数据为主要参照给出本方案的预期目标。")
	default:
		b.WriteString("1. 本次既无行业基准数据，也无历史案例指标。\n")
		b.WriteString("2. 请基于行业通用实践设定本方案的预期目标，并注明每个目标值的估算依据。")
	}
	return b.String()
}

var workedExamples = banner("方案生成示例模板（举例学习）") + `

【示例场景1】工业视觉质检系统
用户需求：需要开发一套针对PCB板的缺陷检测系统，能识别焊点缺失、短路、划痕等问题。

正确的评估指标写法：
| 指标名称 | 历史案例值 | 来源案例 | 本方案目标 | 行业基准线 |
|---------|-----------|---------|-----------|----------|
| 缺陷检测准确率 | 94.5% | [某电子厂质检项目] | ≥96% | 90% |
| 漏检率 | 0.3% | [某电子厂质检项目] | <0.2% | 1% |
| 单张推理时间 | 45ms | [某电子厂质检项目] | <35ms | 80ms |

正确的验收标准写法：
✓ 在2000张标注测试集上，mAP@0.5≥0.92，验证脚本：scripts/eval_map.py
✓ 在Jetson AGX Orin上单张推理时间<35ms，测试命令：python benchmark.py --device orin
✓ 连续72小时压力测试无OOM或崩溃，监控日志：logs/stress_test.log

` + divider + `

【示例场景2】SLAM定位建图系统
用户需求：开发室内仓库的自主导航机器人，需要厘米级定位精度。

正确的评估指标写法：
| 指标名称 | 历史案例值 | 来源案例 | 本方案目标 | 行业基准线 |
|---------|-----------|---------|-----------|----------|
| 定位精度(RMSE) | 3.2cm | [某仓储AGV项目] | ≤3.5cm | 10cm |
| 建图完整度 | 98.5% | [某仓储AGV项目] | ≥99% | 95% |
| CPU占用率 | 35% | [某仓储AGV项目] | <40% | 60% |

正确的风险边界写法：
⚠️ 本方案适用于结构化室内环境（有明确墙面/货架纹理），不适用于：
- 开阔无特征空间（需增加辅助标记）
- 动态遮挡率>40%的场景（需增加动态物体过滤模块）
- 光照变化超过100lux/s的环境（需增加自动曝光补偿）

` + divider + `

【示例场景3】多模态异常检测系统
用户需求：工厂设备巡检，需要识别过热、泄漏、异常振动等故障。

正确的技术选型写法：
- 热成像模块：FLIR Lepton 3.5（分辨率160×120，LWIR 8-14μm，NETD<50mK）
- 振动传感器：ADXL355（±2g/±4g/±8g可选，噪声密度25μg/√Hz）
- 边缘推理：Jetson AGX Orin 64GB（275 TOPS INT8，60W功耗）
- 模型架构：YOLOv8m（异常检测） + ResNet-18（多分类）

正确的里程碑写法：
| 阶段 | 时间 | 交付物 | 验收标准 |
|-----|------|--------|--------|
| 原型验证 | 4周 | Demo系统 | 3类异常识别准确率>80% |
| 工程开发 | 8周 | 完整系统 | 全部5类异常识别准确率>92% |
| 现场部署 | 4周 | 生产系统 | 连续30天稳定运行，误报率<1% |`

const contextUsage = `💡 使用说明：
- 生成方案时应参考【检索案例】的技术架构和实施路径
- 对于相似场景，可借鉴其验收标准和评估指标
- 必须在方案中注明参考来源（如"参考[案例名称]"），确保可溯源性
- 评估指标对比表必须包含历史案例值、来源案例、本方案目标三列`

var outputRules = banner("生成规则与边界限制") + "\n\n" + `【必须遵守的规则】
1. 评估指标三级划分：必须区分“行业标杆”、“历史实测”、“本案目标”。
2. 系统架构可视化：涉及到系统拓扑、数据流、逻辑架构时，必须使用 Mermaid 语法绘图（` + "```mermaid" + ` 代码块），禁止使用 ASCII 字符画图。
3. 数学公式规范：所有算法公式、性能计算必须使用标准 LaTeX 格式。
   - 块级公式必须用 $$ ... $$ 包裹，且公式内不得包含 Markdown 特殊符号。
   - 行内公式必须用 $ ... $ 包裹。
4. 交付物具体化：交付物需包含代码架构方案、预训练模型说明、部署脚本。
5. 项目化工具支持：在方案正文最末尾，必须附带一个 XML 标签包裹的 JSON 数据块，用于填充项目管理工具。
   格式如下：
   <PROJECT_DATA>
   {
     "tasks": [{"name": "任务名", "desc": "描述"}],
     "milestones": [{"name": "里程碑", "date": "T+30d"}],
     "risks": [{"name": "风险点", "impact": "高", "solution": "应对方案"}]
   }
   </PROJECT_DATA>

【输出格式要求】
方案必须包含以下结构化章节，使用Markdown格式：

## 1. 项目愿景与业务蓝图
（现状分析、痛点对标、业务价值闭环）

## 2. 深度技术架构设计
（包含 Mermaid 格式的系统拓扑结构图、核心组件选型、高可用与弹性设计、数据交互协议说明）

## 3. 核心算法与工程实现
（包含 LaTeX 格式的数学推导或算法公式、模型演进路线、数据增强策略、训练推理优化）

## 4. 实施路径与资源配置
（敏捷迭代周期、人员配比建议、硬件资源预估）

## 5. 综合评估指标对比 (Critical Benchmark)
| 评价维度 | 行业基准(Web) | 历史落地值(Case) | 本方案预期目标 | 来源与依据 |
|---------|--------------|-----------------|--------------|-----------|

## 6. 验收体系与风险控制
（可量化的验收标准、边界压力测试、容错机制）

## 7. 工程交付物清单

## 8. 附录：参考资料与溯源
（引用的历史案例ID、权威白皮书链接）`

const closing = `请以资深架构师的身份，严格按照上述规则和格式，生成一份企业级深度技术解决方案：`
