package domain

import (
	"encoding/json"
	"time"
)

// ========== 数据源常量 ==========

const (
	SourceZabbix      = "zabbix"
	SourceUptimeRobot = "uptimerobot"
	SourceWebhook     = "webhook"
)

// EventStatus 事件状态
type EventStatus string

const (
	EventStatusOpen     EventStatus = "open"     // 告警仍在持续
	EventStatusResolved EventStatus = "resolved" // 告警已恢复
)

// RawEvent 标准化后的原始告警事件，入库后不再修改。
type RawEvent struct {
	SourceID   string      `json:"source_id"`          // 数据源标识（zabbix/uptimerobot/webhook）
	ProviderID string      `json:"provider_id"`        // 数据源侧的事件ID
	HostKey    string      `json:"host_key,omitempty"` // 主机/监控项标识，可为空（纯时间相关）
	Timestamp  time.Time   `json:"timestamp"`          // 事件发生时间
	Severity   string      `json:"severity"`           // 级别（数据源原始值归一化为小写）
	Message    string      `json:"message"`            // 告警文本
	Status     EventStatus `json:"status"`             // open/resolved
}

// TimeRange 查询时间窗口 [Start, End]。
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains 判断时间点是否落在窗口内（闭区间）。
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Incident 时间聚类后的事件簇。成员列表在创建后冻结，
// 富化证据、知识库匹配结果以 IncidentID 为键挂在外部，不回写 Incident。
type Incident struct {
	IncidentID     uint64     `json:"incident_id"`     // 全局唯一ID（idgen 生成）
	CorrelationKey string     `json:"correlation_key"` // 相关性键：主机 + 起始时间桶
	Span           TimeRange  `json:"span"`            // [最早, 最晚] 成员事件时间
	PrimaryHost    string     `json:"primary_host"`    // 主要主机（多数表决，平局取首个非空）
	Events         []RawEvent `json:"events"`          // 成员事件，按时间升序
}

// ========== 富化证据 ==========

// MetricSample 单个指标采样点
type MetricSample struct {
	Host      string    `json:"host"`
	MetricKey string    `json:"metric_key"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries 一个监控项在窗口内的采样序列
type MetricSeries struct {
	Key     string         `json:"key"`   // zabbix item key_
	Name    string         `json:"name"`  // 监控项名称
	Units   string         `json:"units"` // 单位
	Samples []MetricSample `json:"samples"`
}

// AnomalyScore 指标异常评分（z-score 偏离基线）
type AnomalyScore struct {
	MetricKey      string    `json:"metric_key"`
	MetricName     string    `json:"metric_name"`
	Units          string    `json:"units,omitempty"`
	ZScore         float64   `json:"z_score"`         // 窗口均值相对基线的偏离（标准差倍数）
	BaselineMean   float64   `json:"baseline_mean"`   // 基线均值
	BaselineStddev float64   `json:"baseline_stddev"` // 基线标准差
	Latest         float64   `json:"latest"`          // 最新采样值
	Trend          string    `json:"trend"`           // ↑ ↓ →
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// Evidence 一个 Incident 的富化证据，按 IncidentID 外挂。
type Evidence struct {
	IncidentID     uint64         `json:"incident_id"`
	Anomalies      []AnomalyScore `json:"anomalies"`       // 按 |z-score| 降序的 Top-N
	SampleCount    int            `json:"sample_count"`    // 参与计算的采样点总数
	MetricsMissing bool           `json:"metrics_missing"` // 主机无指标数据（不是错误，进报告元数据）
}

// ========== 知识库 ==========

// KBEntry 知识库条目，启动时加载，运行期只读。
type KBEntry struct {
	ID         string   `json:"id"`
	Keywords   []string `json:"keywords"`
	Resolution string   `json:"resolution"`
}

// KBMatch 知识库匹配结果。Score 始终填充（可观测性），
// Matched 仅当 Score >= 配置阈值时为 true。
type KBMatch struct {
	KBID       string  `json:"kb_id,omitempty"`
	Score      float64 `json:"score"`
	Matched    bool    `json:"matched"`
	Resolution string  `json:"resolution,omitempty"`
}

// ========== 推理流水线 ==========

// StageName 推理阶段名
type StageName string

const (
	StageCollector   StageName = "collector"
	StageCorrelation StageName = "correlation"
	StageHypothesis  StageName = "hypothesis"
	StageVerifier    StageName = "verifier"
	StageDecision    StageName = "decision"
)

// StageOrder 推理阶段的固定执行顺序。
var StageOrder = []StageName{
	StageCollector,
	StageCorrelation,
	StageHypothesis,
	StageVerifier,
	StageDecision,
}

// AgentArtifact 每个阶段产出恰好一个制品，制品形成严格顺序链。
type AgentArtifact struct {
	Stage       StageName       `json:"stage"`
	IncidentID  uint64          `json:"incident_id"`
	InputStages []StageName     `json:"input_stages,omitempty"` // 依赖的上游阶段
	Output      json.RawMessage `json:"output"`                 // 阶段输出载荷
	Confidence  float64         `json:"confidence"`             // 原始置信度 0-1
	Degraded    bool            `json:"degraded"`               // 是否降级产出
	Note        string          `json:"note,omitempty"`         // 降级说明
}

// FactSet Collector 阶段的归一化事实集
type FactSet struct {
	IncidentID      uint64         `json:"incident_id"`
	PrimaryHost     string         `json:"primary_host"`
	EventCount      int            `json:"event_count"`
	SourceCount     int            `json:"source_count"` // 参与的数据源个数
	Sources         []string       `json:"sources"`
	MaxSeverity     string         `json:"max_severity"`
	Messages        []string       `json:"messages"` // 去重后的事件文本
	Span            TimeRange      `json:"span"`
	Anomalies       []AnomalyScore `json:"anomalies"`
	KBMatch         KBMatch        `json:"kb_match"`
	MetricsMissing  bool           `json:"metrics_missing"`
	DegradedSources []string       `json:"degraded_sources,omitempty"` // 本次运行拉取失败的数据源
}

// Signal 一类独立证据信号（事件簇、指标异常、知识库命中、多源佐证）
type Signal struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// ConsistencyReport Correlation 阶段输出：事实一致性与去重后的信号集
type ConsistencyReport struct {
	Signals            []Signal `json:"signals"`
	IndependentSignals int      `json:"independent_signals"`
	DroppedDuplicates  int      `json:"dropped_duplicates"`
	Inconsistencies    []string `json:"inconsistencies,omitempty"`
}

// Hypothesis 候选根因假设
type Hypothesis struct {
	ID         string   `json:"id"`
	RootCause  string   `json:"root_cause"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
	RuleBased  bool     `json:"rule_based"` // true 表示来自确定性规则而非外部推理
	Resolution string   `json:"resolution,omitempty"`
	Actions    []string `json:"actions,omitempty"`
}

// HypothesisSet Hypothesis 阶段输出
type HypothesisSet struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
	UsedRemote bool         `json:"used_remote"` // 是否成功使用外部推理服务
}

// Verdict Verifier 阶段对单个假设的裁定
type Verdict struct {
	HypothesisID    string  `json:"hypothesis_id"`
	Supported       bool    `json:"supported"`
	SupportCount    int     `json:"support_count"` // 支撑该假设的独立信号数
	FinalConfidence float64 `json:"final_confidence"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// ITSM5W1H ITSM 5W1H 归档块（写入工单 resolution）
type ITSM5W1H struct {
	Who   string `json:"who"`
	What  string `json:"what"`
	When  string `json:"when"`
	Where string `json:"where"`
	Why   string `json:"why"`
	How   string `json:"how"`
}

// Decision 最终决策，Decision 阶段输出。
// ConfidenceCalibrated 是 ConfidenceRaw 与护栏输入的确定性函数，
// 护栏激活时单调不增。
type Decision struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	Impact              string   `json:"impact"`
	Resolution          string   `json:"resolution"`
	LessonsLearned      string   `json:"lessons_learned"`
	ActionableSteps     []string `json:"actionable_steps"`
	ITSM                ITSM5W1H `json:"itsm_5w1h"`

	ConfidenceRaw        float64 `json:"confidence_raw"`
	ConfidenceCalibrated float64 `json:"confidence_calibrated"`
	GuardrailMode        bool    `json:"guardrail_mode"`
	IndependentSignals   int     `json:"independent_signals"`
	DegradedInputs       int     `json:"degraded_inputs"` // 缺失数据源 + 缺失指标 + 无KB命中
}

// ========== 工单流程 ==========

// 工单步骤名，严格按此顺序执行。
const (
	TicketStepUpdateSolution = "update-solution"
	TicketStepAddTask        = "add-task"
	TicketStepCloseTask      = "close-task"
	TicketStepAddWorklog     = "add-worklog"
	TicketStepCloseTicket    = "close-ticket"
)

// TicketStepOrder 工单步骤固定顺序。
var TicketStepOrder = []string{
	TicketStepUpdateSolution,
	TicketStepAddTask,
	TicketStepCloseTask,
	TicketStepAddWorklog,
	TicketStepCloseTicket,
}

// TicketStepResult 单步执行结果
type TicketStepResult struct {
	Step      string `json:"step"`
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// TicketState 工单流程执行状态：已完成与失败的步骤，失败后不再尝试后续步骤。
type TicketState struct {
	RequestID string             `json:"request_id"`
	Steps     []TicketStepResult `json:"steps"`
}

// ========== 最终报告 ==========

// TimelineEntry 报告时间线条目
type TimelineEntry struct {
	Time  string `json:"time"`
	Event string `json:"event"`
}

// CorrelationCounts 相关性统计
type CorrelationCounts struct {
	Events    int `json:"events"`
	Sources   int `json:"sources"`
	Incidents int `json:"incidents"`
}

// ReportMetadata 报告元数据：足以判断置信度来自完整证据还是降级证据。
type ReportMetadata struct {
	ConfidenceRaw        float64           `json:"confidence_raw"`
	ConfidenceCalibrated float64           `json:"confidence_calibrated"`
	GuardrailMode        bool              `json:"guardrail_mode"`
	KBID                 string            `json:"kb_id,omitempty"`
	KBMatchScore         float64           `json:"kb_match_score"`
	CorrelationCounts    CorrelationCounts `json:"correlation_counts"`
	TicketState          *TicketState      `json:"ticket_state,omitempty"`
	DegradedSources      []string          `json:"degraded_sources,omitempty"`
	MetricsMissing       bool              `json:"metrics_missing"`
	Error                string            `json:"error,omitempty"` // 批处理中单条失败的错误标记
}

// RCABody 结构化 RCA 内容
type RCABody struct {
	RootCause           string          `json:"root_cause"`
	ContributingFactors []string        `json:"contributing_factors"`
	Impact              string          `json:"impact"`
	Resolution          string          `json:"resolution"`
	Timeline            []TimelineEntry `json:"timeline"`
	LessonsLearned      string          `json:"lessons_learned"`
	ActionableSteps     []string        `json:"actionable_steps_for_L1"`
	Metadata            ReportMetadata  `json:"metadata"`
}

// RCAReport 每个 Incident 一份，创建后不可变。
// SummaryMarkdown 由结构化内容派生，二者是同一输入的确定性函数。
type RCAReport struct {
	IncidentID      uint64  `json:"incident_id"`
	CorrelationKey  string  `json:"correlation_key"`
	RCA             RCABody `json:"rca"`
	SummaryMarkdown string  `json:"summary_markdown"`
}

// ArchivedReport OpenSearch 归档文档
type ArchivedReport struct {
	IncidentID     uint64    `json:"incident_id"`
	CorrelationKey string    `json:"correlation_key"`
	CreatedAt      time.Time `json:"created_at"`
	Report         RCAReport `json:"report"`
}
