package correlate

import (
	"fmt"
	"sort"
	"time"

	"github.com/oneops-ai/incident-rca/domain"
	"github.com/oneops-ai/incident-rca/utils/idgen"
)

// Correlator 时间窗事件聚类。同主机（或均无主机）且时间差在窗口内的
// 事件经并查集传递闭包合并为一个 Incident。无主机事件只按时间合并，
// 用于表达跨主机的大面积故障。
type Correlator struct {
	window time.Duration
	gen    *idgen.Generator
}

// NewCorrelator 创建聚类器。window 为相邻判定窗口（±window）。
func NewCorrelator(window time.Duration, gen *idgen.Generator) *Correlator {
	if gen == nil {
		gen = idgen.New()
	}
	return &Correlator{window: window, gen: gen}
}

// Correlate 把窗口内的全部事件聚成 Incident 列表。
// 输出只依赖事件集合本身：聚类前先排序，合并判定可交换，
// 所以同一事件集无论输入顺序如何，结果一致。
func (c *Correlator) Correlate(events []domain.RawEvent) []domain.Incident {
	if len(events) == 0 {
		return nil
	}

	// 规范化输入顺序，保证确定性
	sorted := make([]domain.RawEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			if sorted[i].SourceID == sorted[j].SourceID {
				return sorted[i].ProviderID < sorted[j].ProviderID
			}
			return sorted[i].SourceID < sorted[j].SourceID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	uf := newUnionFind(len(sorted))
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			// 排序后时间单调，超窗即可对 i 剪枝
			if sorted[j].Timestamp.Sub(sorted[i].Timestamp) > c.window {
				break
			}
			if joinable(sorted[i], sorted[j]) {
				uf.union(i, j)
			}
		}
	}

	// 按根分组，组内保持排序后的次序
	groups := make(map[int][]int)
	var roots []int
	for i := range sorted {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}
	// 根按组内最早事件排序，使 Incident 输出顺序稳定
	sort.Slice(roots, func(a, b int) bool {
		return groups[roots[a]][0] < groups[roots[b]][0]
	})

	incidents := make([]domain.Incident, 0, len(roots))
	for _, root := range roots {
		members := make([]domain.RawEvent, 0, len(groups[root]))
		for _, idx := range groups[root] {
			members = append(members, sorted[idx])
		}
		incidents = append(incidents, c.buildIncident(members))
	}
	return incidents
}

// joinable 合并判定：时间差在窗口内，且主机一致或双方都无主机。
// 判定可交换，调用方保证 a 不晚于 b。
func joinable(a, b domain.RawEvent) bool {
	if a.HostKey == "" && b.HostKey == "" {
		return true
	}
	return a.HostKey == b.HostKey && a.HostKey != ""
}

func (c *Correlator) buildIncident(members []domain.RawEvent) domain.Incident {
	span := domain.TimeRange{
		Start: members[0].Timestamp,
		End:   members[len(members)-1].Timestamp,
	}
	host := primaryHost(members)
	return domain.Incident{
		IncidentID:     c.gen.NextID(),
		CorrelationKey: CorrelationKey(host, span.Start, c.window),
		Span:           span,
		PrimaryHost:    host,
		Events:         members,
	}
}

// primaryHost 多数表决选主要主机，平局取时间最早的非空主机。
func primaryHost(members []domain.RawEvent) string {
	counts := make(map[string]int)
	for _, event := range members {
		if event.HostKey != "" {
			counts[event.HostKey]++
		}
	}
	best, bestCount := "", 0
	for _, event := range members {
		if event.HostKey == "" {
			continue
		}
		if counts[event.HostKey] > bestCount {
			best, bestCount = event.HostKey, counts[event.HostKey]
		}
	}
	return best
}

// CorrelationKey 相关性键：主机 + 起始时间桶。窗口为零时退化为分钟桶。
// 同一主机在相邻时间段的重复处理经此键去重。
func CorrelationKey(host string, start time.Time, window time.Duration) string {
	bucket := window
	if bucket <= 0 {
		bucket = time.Minute
	}
	if host == "" {
		host = "_global"
	}
	return fmt.Sprintf("%s:%d", host, start.UTC().Truncate(bucket).Unix())
}

// ========== 并查集 ==========

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]] // 路径减半
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
