package input

import (
	"regexp"
	"strings"
)

// Parsed 自由文本解析出的可选字段集。
// 只做抽取不做默认值填充，缺失字段保持空串，由调用方决定兜底。
type Parsed struct {
	Hostname  string  `json:"hostname,omitempty"`
	EventID   string  `json:"eventid,omitempty"`
	IP        string  `json:"ip,omitempty"`
	Service   string  `json:"service,omitempty"`
	Severity  string  `json:"severity,omitempty"`
	Trigger   string  `json:"trigger,omitempty"`
	RequestID string  `json:"request_id,omitempty"` // SDP 工单号
	Quality   float64 `json:"quality"`              // 抽取质量 0-1
}

var (
	// "db01:12345" 形式的主机:事件ID速记
	reHostEvent = regexp.MustCompile(`^\s*([a-zA-Z][\w.-]*):(\d+)\s*$`)

	reHost     = regexp.MustCompile(`(?i)\bhost(?:name)?\s*[:=]\s*([\w][\w.-]*)`)
	reEventID  = regexp.MustCompile(`(?i)\bevent\s*_?id\s*[:=]\s*(\d+)`)
	reIP       = regexp.MustCompile(`\b((?:\d{1,3}\.){3}\d{1,3})\b`)
	reService  = regexp.MustCompile(`(?i)\bservice\s*[:=]\s*([\w][\w.-]*)`)
	reSeverity = regexp.MustCompile(`(?i)\b(disaster|critical|high|average|warning|information)\b`)
	reTrigger  = regexp.MustCompile(`(?i)\btrigger\s*[:=]\s*(.+?)(?:[;\n]|$)`)

	// SDP 工单号的三种来源：woID 参数、v3 requests 路径、老版 workorder 路径
	reWoID        = regexp.MustCompile(`(?i)\bwoID=(\d+)`)
	reRequestPath = regexp.MustCompile(`/requests/(\d+)`)
	reWorkorder   = regexp.MustCompile(`(?i)/workorder[^0-9]*(\d+)`)
)

// Parse 从自由文本中抽取事件定位字段。纯函数，相同输入产出相同结果。
func Parse(text string) Parsed {
	var p Parsed
	text = strings.TrimSpace(text)
	if text == "" {
		return p
	}

	// 速记形式优先，整串匹配成功则不再尝试其他模式
	if m := reHostEvent.FindStringSubmatch(text); m != nil {
		p.Hostname = m[1]
		p.EventID = m[2]
		p.Quality = scoreQuality(p)
		return p
	}

	if m := reHost.FindStringSubmatch(text); m != nil {
		p.Hostname = m[1]
	}
	if m := reEventID.FindStringSubmatch(text); m != nil {
		p.EventID = m[1]
	}
	if m := reIP.FindStringSubmatch(text); m != nil {
		p.IP = m[1]
	}
	if m := reService.FindStringSubmatch(text); m != nil {
		p.Service = m[1]
	}
	if m := reSeverity.FindStringSubmatch(text); m != nil {
		p.Severity = strings.ToLower(m[1])
	}
	if m := reTrigger.FindStringSubmatch(text); m != nil {
		p.Trigger = strings.TrimSpace(m[1])
	}
	p.RequestID = ParseRequestID(text)

	p.Quality = scoreQuality(p)
	return p
}

// ParseRequestID 从文本或 URL 中抽取 SDP 工单号，没有则返回空串。
func ParseRequestID(text string) string {
	if m := reWoID.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reRequestPath.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reWorkorder.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// scoreQuality 按字段权重计算抽取质量。
// 事件ID与主机是强定位字段，其余是辅助字段。
func scoreQuality(p Parsed) float64 {
	var score float64
	if p.EventID != "" {
		score += 0.35
	}
	if p.Hostname != "" {
		score += 0.30
	}
	if p.IP != "" {
		score += 0.15
	}
	if p.Service != "" {
		score += 0.08
	}
	if p.Severity != "" {
		score += 0.05
	}
	if p.Trigger != "" {
		score += 0.05
	}
	if p.RequestID != "" {
		score += 0.02
	}
	return score
}

// HasLocator 是否含有足以定位事件的字段。
func (p Parsed) HasLocator() bool {
	return p.EventID != "" || p.Hostname != "" || p.IP != ""
}
