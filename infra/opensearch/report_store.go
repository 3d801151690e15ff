package opensearch

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"strings"
	"time"

	opensearchsdk "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/pkg/errors"

	"github.com/oneops-ai/incident-rca/domain"
)

// ReportIndex RCA 报告归档索引
const ReportIndex = "rca_report"

const defaultTimeout = 10 * time.Second

// Config 归档后端连接配置，来自环境变量。
type Config struct {
	Hosts              []string
	Username           string
	Password           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// ReportStore RCA 报告的 OpenSearch 归档仓库，本服务唯一的归档面。
// 文档 ID 使用事件簇 ID，重复写入为幂等覆盖。
type ReportStore struct {
	client *opensearchsdk.Client
}

// NewReportStore 连接归档后端并创建报告仓库。
func NewReportStore(cfg Config) (*ReportStore, error) {
	addresses, err := normalizeHosts(cfg.Hosts)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client, err := opensearchsdk.NewClient(opensearchsdk.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   timeout,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "初始化归档客户端失败")
	}
	return &ReportStore{client: client}, nil
}

// normalizeHosts 整理归档地址：去空白、补 http 前缀、去尾部斜杠。
func normalizeHosts(hosts []string) ([]string, error) {
	addresses := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		addresses = append(addresses, strings.TrimRight(host, "/"))
	}
	if len(addresses) == 0 {
		return nil, errors.New("归档地址列表为空")
	}
	return addresses, nil
}

// Upsert 写入或覆盖一条归档报告。
func (s *ReportStore) Upsert(ctx context.Context, report domain.ArchivedReport) error {
	body, err := jsonBody(report)
	if err != nil {
		return err
	}

	req := opensearchapi.IndexRequest{
		Index:      ReportIndex,
		DocumentID: strconv.FormatUint(report.IncidentID, 10),
		Body:       body,
		Refresh:    "false",
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return errors.Wrap(err, "写入归档报告失败")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.IsError() {
		return errors.Wrap(readError(resp.Body), "写入归档报告失败")
	}
	return nil
}

// QueryByIncidentIDs 按事件簇 ID 批量查询归档报告，未命中的 ID 跳过。
func (s *ReportStore) QueryByIncidentIDs(ctx context.Context, ids []uint64) ([]domain.ArchivedReport, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	docIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		docIDs = append(docIDs, strconv.FormatUint(id, 10))
	}
	body, err := jsonBody(map[string]interface{}{"ids": docIDs})
	if err != nil {
		return nil, err
	}

	req := opensearchapi.MgetRequest{
		Index: ReportIndex,
		Body:  body,
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.Wrap(err, "查询归档报告失败")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.IsError() {
		// 索引不存在视为无归档
		if resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, errors.Wrap(readError(resp.Body), "查询归档报告失败")
	}
	return decodeReportMGet(resp.Body)
}

// SearchByCorrelationKey 按关联键搜索历史归档，时间倒序。
func (s *ReportStore) SearchByCorrelationKey(ctx context.Context, key string, limit int) ([]domain.ArchivedReport, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	body, err := jsonBody(map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"correlation_key.keyword": key,
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]string{"order": "desc"}},
		},
	})
	if err != nil {
		return nil, err
	}

	req := opensearchapi.SearchRequest{
		Index: []string{ReportIndex},
		Body:  body,
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.Wrap(err, "搜索归档报告失败")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.IsError() {
		if resp.StatusCode == 404 {
			return nil, nil
		}
		return nil, errors.Wrap(readError(resp.Body), "搜索归档报告失败")
	}
	return decodeReportSearch(resp.Body)
}
