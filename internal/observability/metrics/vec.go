package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// labelSep 连接标签值作为 map 键，不会出现在合法标签值中。
const labelSep = "\xff"

type series struct {
	values []string
	count  uint64
}

// counterVec 是按标签区分的计数器族。调用方负责加锁。
type counterVec struct {
	name   string
	help   string
	labels []string
	series map[string]*series
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{name: name, help: help, labels: labels, series: make(map[string]*series)}
}

func (v *counterVec) inc(values ...string) {
	key := strings.Join(values, labelSep)
	s := v.series[key]
	if s == nil {
		s = &series{values: append([]string(nil), values...)}
		v.series[key] = s
	}
	s.count++
}

func (v *counterVec) write(b *strings.Builder) {
	writeHeader(b, v.name, v.help, "counter")
	for _, key := range sortedKeys(v.series) {
		s := v.series[key]
		fmt.Fprintf(b, "%s{%s} %d\n", v.name, labelPairs(v.labels, s.values), s.count)
	}
}

// histogram 使用累积桶，超过最后一个上界的样本只计入 +Inf。
type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func newHistogram() *histogram {
	return &histogram{buckets: defaultBuckets, counts: make([]uint64, len(defaultBuckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	idx := sort.SearchFloat64s(h.buckets, value)
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

type histogramVec struct {
	name   string
	help   string
	labels []string
	values map[string][]string
	hists  map[string]*histogram
}

func newHistogramVec(name, help string, labels ...string) *histogramVec {
	return &histogramVec{
		name:   name,
		help:   help,
		labels: labels,
		values: make(map[string][]string),
		hists:  make(map[string]*histogram),
	}
}

func (v *histogramVec) observe(value float64, labels ...string) {
	key := strings.Join(labels, labelSep)
	h := v.hists[key]
	if h == nil {
		h = newHistogram()
		v.hists[key] = h
		v.values[key] = append([]string(nil), labels...)
	}
	h.observe(value)
}

func (v *histogramVec) write(b *strings.Builder) {
	writeHeader(b, v.name, v.help, "histogram")
	for _, key := range sortedKeys(v.hists) {
		h := v.hists[key]
		pairs := labelPairs(v.labels, v.values[key])
		for i, bound := range h.buckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", v.name, pairs, formatFloat(bound), h.counts[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", v.name, pairs, h.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", v.name, pairs, formatFloat(h.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", v.name, pairs, h.count)
	}
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func labelPairs(names, values []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=\"%s\"", name, escape(values[i]))
	}
	return strings.Join(parts, ",")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
