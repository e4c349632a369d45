// Package analyst 读取模拟器写出的遥测 CSV，并生成 analyst 模式使用的网络健康摘要。
package analyst

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownCell 表示请求的城市或基站不在当前拓扑中。
var ErrUnknownCell = errors.New("unknown city or cell")

// Sample 是某个基站的一条遥测记录。
type Sample struct {
	Timestamp      string  `json:"timestamp"`
	City           string  `json:"city"`
	CellID         string  `json:"cell_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	LatencyMs      float64 `json:"latency_ms"`
	PacketLossPct  float64 `json:"packet_loss_pct"`
	RSRPdBm        float64 `json:"rsrp_dbm"`
	UsersConnected int     `json:"users_connected"`
}

// Store 以 <dataDir>/<city>/<cell>.csv 的目录结构读取遥测数据。
type Store struct {
	dataDir string
}

// NewStore 创建一个新的 Store 实例。
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Topology 返回 城市 -> 基站列表，目录不存在时返回空 map。
func (s *Store) Topology() (map[string][]string, error) {
	topology := make(map[string][]string)
	cities, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return topology, nil
		}
		return nil, fmt.Errorf("read telemetry dir failed: %w", err)
	}

	for _, city := range cities {
		if !city.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dataDir, city.Name()))
		if err != nil {
			return nil, fmt.Errorf("read city dir failed: %w", err)
		}
		var cells []string
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".csv") {
				cells = append(cells, strings.TrimSuffix(f.Name(), ".csv"))
			}
		}
		if len(cells) > 0 {
			sort.Strings(cells)
			topology[city.Name()] = cells
		}
	}
	return topology, nil
}

// Cities 返回有数据的城市，按名称排序。
func (s *Store) Cities() ([]string, error) {
	topology, err := s.Topology()
	if err != nil {
		return nil, err
	}
	return sortedKeys(topology), nil
}

// Cells 返回某个城市的基站列表。
func (s *Store) Cells(city string) ([]string, error) {
	topology, err := s.Topology()
	if err != nil {
		return nil, err
	}
	cells, ok := topology[city]
	if !ok {
		return nil, ErrUnknownCell
	}
	return cells, nil
}

// Tail 返回某个基站最近的 limit 条记录。city 和 cell 必须出现在拓扑中。
func (s *Store) Tail(city, cell string, limit int) ([]Sample, error) {
	cells, err := s.Cells(city)
	if err != nil {
		return nil, err
	}
	found := false
	for _, c := range cells {
		if c == cell {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrUnknownCell
	}
	return s.readTail(city, cell, limit)
}

func (s *Store) readTail(city, cell string, limit int) ([]Sample, error) {
	f, err := os.Open(filepath.Join(s.dataDir, city, cell+".csv"))
	if err != nil {
		return nil, fmt.Errorf("open telemetry file failed: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read telemetry header failed: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	var samples []Sample
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read telemetry row failed: %w", err)
		}
		sample := parseSample(cols, record)
		// 文件中的 city/cell 以目录结构为准
		sample.City = city
		sample.CellID = cell
		samples = append(samples, sample)
		if limit > 0 && len(samples) > limit*2 {
			samples = append(samples[:0:0], samples[len(samples)-limit:]...)
		}
	}
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples, nil
}

func parseSample(cols map[string]int, record []string) Sample {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	num := func(name string) float64 {
		v, _ := strconv.ParseFloat(field(name), 64)
		return v
	}
	return Sample{
		Timestamp:      field("timestamp"),
		Latitude:       num("latitude"),
		Longitude:      num("longitude"),
		ThroughputMbps: num("throughput_mbps"),
		LatencyMs:      num("latency_ms"),
		PacketLossPct:  num("packet_loss_pct"),
		RSRPdBm:        num("rsrp_dbm"),
		UsersConnected: int(num("users_connected")),
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
