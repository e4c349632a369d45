package analyst

import (
	"context"
	"fmt"
	"strings"
)

// SummaryBuilder 根据提问生成当前网络状态的文本摘要。
type SummaryBuilder struct {
	store *Store
	lastN int
}

// NewSummaryBuilder 创建一个新的 SummaryBuilder，lastN 是每个基站参与统计的最近记录数。
func NewSummaryBuilder(store *Store, lastN int) *SummaryBuilder {
	if lastN <= 0 {
		lastN = 100
	}
	return &SummaryBuilder{store: store, lastN: lastN}
}

type scope struct {
	city string
	cell string
}

func (s scope) String() string {
	switch {
	case s.cell != "":
		return fmt.Sprintf("cell %s in %s", s.cell, s.city)
	case s.city != "":
		return fmt.Sprintf("city %s", s.city)
	default:
		return "the entire network"
	}
}

// inferScope 按不区分大小写的子串匹配从提问中识别城市和基站，基站优先。
// 子串匹配可能误判，这里不做纠正。
func inferScope(question string, topology map[string][]string) scope {
	var sc scope
	q := strings.ToLower(question)
	if q == "" {
		return sc
	}
	cities := sortedKeys(topology)
	for _, city := range cities {
		if strings.Contains(q, strings.ToLower(city)) {
			sc.city = city
			break
		}
	}
	for _, city := range cities {
		for _, cell := range topology[city] {
			if strings.Contains(q, strings.ToLower(cell)) {
				return scope{city: city, cell: cell}
			}
		}
	}
	return sc
}

// Build 每次都从磁盘读取，反映模拟器最新写入的数据。
func (b *SummaryBuilder) Build(ctx context.Context, question string) (string, error) {
	topology, err := b.store.Topology()
	if err != nil {
		return "", err
	}
	if len(topology) == 0 {
		return "No network data available yet.", nil
	}

	sc := inferScope(question, topology)
	groups, err := b.load(ctx, topology, sc)
	if err != nil {
		return "", err
	}
	if len(groups) == 0 {
		return fmt.Sprintf("No recent data found for %s.", sc), nil
	}
	return summarize(sc, groups), nil
}

type cellSamples struct {
	city    string
	cell    string
	samples []Sample
}

func (b *SummaryBuilder) load(ctx context.Context, topology map[string][]string, sc scope) ([]cellSamples, error) {
	type target struct{ city, cell string }
	var targets []target
	switch {
	case sc.cell != "":
		targets = append(targets, target{sc.city, sc.cell})
	case sc.city != "":
		for _, cell := range topology[sc.city] {
			targets = append(targets, target{sc.city, cell})
		}
	default:
		for _, city := range sortedKeys(topology) {
			for _, cell := range topology[city] {
				targets = append(targets, target{city, cell})
			}
		}
	}

	var groups []cellSamples
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples, err := b.store.readTail(t.city, t.cell, b.lastN)
		if err != nil {
			return nil, err
		}
		if len(samples) > 0 {
			groups = append(groups, cellSamples{city: t.city, cell: t.cell, samples: samples})
		}
	}
	return groups, nil
}

func summarize(sc scope, groups []cellSamples) string {
	var total, latency, throughput, loss, users float64
	var latest Sample
	for _, g := range groups {
		for _, s := range g.samples {
			total++
			latency += s.LatencyMs
			throughput += s.ThroughputMbps
			loss += s.PacketLossPct
			users += float64(s.UsersConnected)
			if latest.Timestamp == "" || s.Timestamp >= latest.Timestamp {
				latest = s
			}
		}
	}

	lines := []string{
		fmt.Sprintf("Scope: %s.", sc),
		fmt.Sprintf("Average latency: %.1f ms, average throughput: %.1f Mbps.", latency/total, throughput/total),
		fmt.Sprintf("Average packet loss: %.3f%%, average connected users: %.1f.", loss/total, users/total),
	}

	if sc.cell == "" {
		worst, best := rankByLatency(groups)
		lines = append(lines,
			fmt.Sprintf("Worst latency currently at %s/%s: %.1f ms, %.1f Mbps throughput.",
				worst.city, worst.cell, worst.latency, worst.throughput),
			fmt.Sprintf("Best latency currently at %s/%s: %.1f ms, %.1f Mbps throughput.",
				best.city, best.cell, best.latency, best.throughput),
		)
	}

	lines = append(lines,
		fmt.Sprintf("Most recent sample: %s - latency %.1f ms, throughput %.1f Mbps, packet loss %.3f%%, %d users connected.",
			latest.Timestamp, latest.LatencyMs, latest.ThroughputMbps, latest.PacketLossPct, latest.UsersConnected),
		"Health assessment: "+ClassifyHealth(latest.LatencyMs, latest.PacketLossPct, latest.UsersConnected),
	)
	return strings.Join(lines, "\n")
}

type cellAverage struct {
	city       string
	cell       string
	latency    float64
	throughput float64
}

func rankByLatency(groups []cellSamples) (worst, best cellAverage) {
	for i, g := range groups {
		var lat, tp float64
		for _, s := range g.samples {
			lat += s.LatencyMs
			tp += s.ThroughputMbps
		}
		n := float64(len(g.samples))
		avg := cellAverage{city: g.city, cell: g.cell, latency: lat / n, throughput: tp / n}
		if i == 0 || avg.latency > worst.latency {
			worst = avg
		}
		if i == 0 || avg.latency < best.latency {
			best = avg
		}
	}
	return worst, best
}

// ClassifyHealth 用简单阈值给最新一条记录定级。
func ClassifyHealth(latencyMs, packetLossPct float64, users int) string {
	switch {
	case latencyMs > 200 || packetLossPct > 3:
		return "Severe degradation (likely incident)."
	case latencyMs > 80 || packetLossPct > 1:
		return "Degraded performance (monitor closely)."
	case users > 150 && latencyMs > 50:
		return "High load, mild congestion."
	default:
		return "Healthy / normal behavior."
	}
}
