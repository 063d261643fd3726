package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydesk/internal/report"
)

func TestNormalizeMessageShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		shape   Shape
		message string
	}{
		{name: "double encoded string", body: `"\"hello\""`, shape: ShapeString, message: "hello"},
		{name: "plain string", body: `"hello"`, shape: ShapeString, message: "hello"},
		{name: "message", body: `{"message":"x"}`, shape: ShapeMessage, message: "x"},
		{name: "output message", body: `{"output":{"message":"y"}}`, shape: ShapeOutputMessage, message: "y"},
		{name: "array output message", body: `[{"output":{"message":"z"}}]`, shape: ShapeArrayOutput, message: "z"},
		{name: "output wins over message", body: `{"message":"low","output":{"message":"high"}}`, shape: ShapeOutputMessage, message: "high"},
		{name: "surrounding whitespace", body: "\n  {\"message\":\"x\"}\n", shape: ShapeMessage, message: "x"},
		{name: "empty message string", body: `{"message":""}`, shape: ShapeMessage, message: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Normalize([]byte(tt.body))
			assert.Equal(t, tt.shape, resp.Shape)
			require.NotNil(t, resp.Message)
			assert.Equal(t, tt.message, *resp.Message)
		})
	}
}

func TestNormalizeUnrecognizedBodies(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{"message":`,
		`null`,
		`42`,
		`[]`,
		`[{"text":"nope"}]`,
		`{"message":42}`,
		`{"message":null}`,
		`{"output":"flat"}`,
		`{"output":{"message":{"nested":true}}}`,
		`"unterminated`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			var resp Response
			assert.NotPanics(t, func() { resp = Normalize([]byte(body)) })
			assert.Equal(t, ShapeUnrecognized, resp.Shape)
			assert.Nil(t, resp.Message)
		})
	}
}

func TestNormalizeDecodesRows(t *testing.T) {
	body := `{"message":"Sessions by day","rows":[
		{"dimensionValues":[{"value":"2024-01-01"}],"metricValues":[{"value":"42"}]},
		{"dimensionValues":[{"value":"2024-01-02"}]}
	]}`

	resp := Normalize([]byte(body))

	assert.Equal(t, ShapeMessage, resp.Shape)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Sessions by day", *resp.Message)
	assert.Equal(t, []report.ChartPoint{
		{Date: "2024-01-01", Sessions: 42},
		{Date: "2024-01-02", Sessions: 0},
	}, resp.Chart())
}

func TestNormalizeRowsWithoutMessage(t *testing.T) {
	resp := Normalize([]byte(`{"rows":[{"dimensionValues":[{"value":"2024-01-01"}],"metricValues":[{"value":"5"}]}]}`))

	assert.Equal(t, ShapeRows, resp.Shape)
	assert.Nil(t, resp.Message)
	assert.Equal(t, []report.Row{{Dimension: "2024-01-01", Metric: 5}}, resp.Rows)
}

func TestNormalizeArrayRows(t *testing.T) {
	resp := Normalize([]byte(`[{"output":{"message":"z"},"rows":[{"dimensionValues":[{"value":"d"}],"metricValues":[{"value":"1"}]}]}]`))

	assert.Equal(t, ShapeArrayOutput, resp.Shape)
	assert.Len(t, resp.Rows, 1)
}
