// Package report decodes Analytics-style tabular rows and turns them into chart points.
package report

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Row is one dimension/metric pair from a report.
type Row struct {
	Dimension string `json:"dimension"`
	Metric    int    `json:"metric"`
}

// ChartPoint is a row in the shape the dashboard chart consumes.
type ChartPoint struct {
	Date     string `json:"date"`
	Sessions int    `json:"sessions"`
}

type rawValue struct {
	Value json.RawMessage `json:"value"`
}

type rawRow struct {
	DimensionValues []rawValue `json:"dimensionValues"`
	MetricValues    []rawValue `json:"metricValues"`
}

// DecodeRows parses a JSON array of rows exposing dimensionValues[0].value and
// metricValues[0].value. Anything that is not an array yields nil; individual
// malformed rows are skipped. Missing or non-numeric metrics read as 0.
func DecodeRows(raw json.RawMessage) []Row {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}

	rows := make([]Row, 0, len(elements))
	for _, element := range elements {
		var r rawRow
		if err := json.Unmarshal(element, &r); err != nil {
			continue
		}
		row := Row{}
		if len(r.DimensionValues) > 0 {
			row.Dimension = stringValue(r.DimensionValues[0].Value)
		}
		if len(r.MetricValues) > 0 {
			row.Metric = intValue(r.MetricValues[0].Value)
		}
		rows = append(rows, row)
	}
	return rows
}

// ChartData maps rows onto date/sessions points in row order.
func ChartData(rows []Row) []ChartPoint {
	points := make([]ChartPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, ChartPoint{Date: row.Dimension, Sessions: row.Metric})
	}
	return points
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

// intValue reads the leading integer of a string-encoded or bare number, so
// "42.0" and 42.5 both read as 42. Values without leading digits read as 0.
func intValue(raw json.RawMessage) int {
	text := strings.TrimSpace(stringValue(raw))
	end := 0
	if end < len(text) && (text[end] == '-' || text[end] == '+') {
		end++
	}
	digits := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(text[:end])
	if err != nil {
		return 0
	}
	return n
}
