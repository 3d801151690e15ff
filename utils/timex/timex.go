package timex

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// 毫秒级 epoch 的判定阈值：大于该值认为是毫秒时间戳
const millisThreshold = 10_000_000_000

func NowLocalTime() time.Time {
	return time.Now().Local()
}

func ParseTime(s string, f string) (time.Time, error) {
	t, err := time.ParseInLocation(f, s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// AbsSecondsBetween 计算 t1 和 t2 之间的绝对秒差值
func AbsSecondsBetween(t1, t2 time.Time) uint64 {
	return uint64(math.Abs(t1.Sub(t2).Seconds()))
}

// ParseFlexible 解析数据源常见的几种时间表示：
// 秒/毫秒 epoch（数字或数字字符串）、RFC3339、"2006-01-02 15:04:05"。
// 解析失败返回零值和 false。
func ParseFlexible(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case int:
		return fromEpoch(int64(x)), true
	case int64:
		return fromEpoch(x), true
	case float64:
		return fromEpoch(int64(x)), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func fromEpoch(n int64) time.Time {
	if n > millisThreshold {
		n /= 1000
	}
	return time.Unix(n, 0).UTC()
}

// ParseFixedOffset 解析 "+07:00" / "-05:30" 形式的展示时区偏移，
// 解析失败回退到 UTC。
func ParseFixedOffset(offset string) *time.Location {
	offset = strings.TrimSpace(offset)
	if offset == "" {
		return time.UTC
	}
	sign := 1
	switch offset[0] {
	case '+':
		offset = offset[1:]
	case '-':
		sign = -1
		offset = offset[1:]
	}
	parts := strings.SplitN(offset, ":", 2)
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.UTC
	}
	m := 0
	if len(parts) == 2 {
		if m, err = strconv.Atoi(parts[1]); err != nil {
			return time.UTC
		}
	}
	sec := sign * (h*3600 + m*60)
	if sec == 0 {
		return time.UTC
	}
	return time.FixedZone("UTC"+formatOffset(sec), sec)
}

func formatOffset(sec int) string {
	sign := "+"
	if sec < 0 {
		sign = "-"
		sec = -sec
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	return sign + pad2(h) + ":" + pad2(m)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
