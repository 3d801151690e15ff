package opensearch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
)

// archiveError OpenSearch 错误响应的精简视图。归档路径只需要
// 错误类型和原因来定位问题，嵌套的 root_cause/caused_by 不保留。
type archiveError struct {
	Info struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

func (e *archiveError) Error() string {
	if e.Info.Reason == "" {
		return fmt.Sprintf("归档请求失败（status=%d）", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Info.Type, e.Info.Reason)
}

// readError 读取错误响应体，能解析成结构化错误就解析，
// 否则原样透传文本。
func readError(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return errors.Wrap(err, "读取归档错误响应失败")
	}

	var archErr archiveError
	if json.Unmarshal(data, &archErr) == nil && archErr.Info.Reason != "" {
		return &archErr
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "归档返回空错误响应"
	}
	return errors.New(msg)
}

// jsonBody 序列化请求体。
func jsonBody(payload interface{}) (*bytes.Reader, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化请求体失败")
	}
	return bytes.NewReader(data), nil
}

// decodeReportMGet 从 mget 响应中取出命中的归档报告。
func decodeReportMGet(body io.Reader) ([]domain.ArchivedReport, error) {
	var resp struct {
		Docs []struct {
			Found  bool            `json:"found"`
			Source json.RawMessage `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "解析 mget 响应失败")
	}

	reports := make([]domain.ArchivedReport, 0, len(resp.Docs))
	for _, doc := range resp.Docs {
		if !doc.Found || len(doc.Source) == 0 {
			continue
		}
		var report domain.ArchivedReport
		if err := json.Unmarshal(doc.Source, &report); err != nil {
			return nil, errors.Wrap(err, "解析归档文档失败")
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// decodeReportSearch 从 search 响应中取出归档报告，保持命中顺序。
func decodeReportSearch(body io.Reader) ([]domain.ArchivedReport, error) {
	var resp struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "解析 search 响应失败")
	}

	reports := make([]domain.ArchivedReport, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		if len(hit.Source) == 0 || string(hit.Source) == "null" {
			continue
		}
		var report domain.ArchivedReport
		if err := json.Unmarshal(hit.Source, &report); err != nil {
			return nil, errors.Wrap(err, "解析归档文档失败")
		}
		reports = append(reports, report)
	}
	return reports, nil
}
