package webhook

import (
	"bytes"
	"encoding/json"

	"querydesk/internal/report"
)

// Shape names which known response layout a webhook body matched.
type Shape string

const (
	// ShapeString is a bare JSON string, possibly JSON-encoded twice.
	ShapeString Shape = "string"
	// ShapeArrayOutput is a one-element array carrying [0].output.message.
	ShapeArrayOutput Shape = "array_output"
	// ShapeOutputMessage is an object carrying output.message.
	ShapeOutputMessage Shape = "output_message"
	// ShapeMessage is an object carrying message.
	ShapeMessage Shape = "message"
	// ShapeRows is an object with rows but no message.
	ShapeRows Shape = "rows"
	// ShapeUnrecognized covers everything else, including unparseable bodies.
	ShapeUnrecognized Shape = "unrecognized"
)

// Response is the normalised webhook answer. Message is nil when no text was found.
type Response struct {
	Shape   Shape        `json:"shape"`
	Message *string      `json:"message"`
	Rows    []report.Row `json:"rows,omitempty"`
}

// Chart returns the rows as chart points.
func (r Response) Chart() []report.ChartPoint {
	return report.ChartData(r.Rows)
}

// Normalize decodes a webhook body by trying each known shape in priority
// order. It never fails; bodies matching nothing come back as ShapeUnrecognized.
func Normalize(body []byte) Response {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Response{Shape: ShapeUnrecognized}
	}

	switch trimmed[0] {
	case '"':
		text, ok := decodeString(trimmed)
		if !ok {
			return Response{Shape: ShapeUnrecognized}
		}
		if inner, ok := decodeString([]byte(text)); ok {
			text = inner
		}
		return Response{Shape: ShapeString, Message: &text}

	case '[':
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil || len(list) == 0 {
			return Response{Shape: ShapeUnrecognized}
		}
		rows := report.DecodeRows(list[0]["rows"])
		if text, ok := outputMessage(list[0]); ok {
			return Response{Shape: ShapeArrayOutput, Message: &text, Rows: rows}
		}
		return fallback(rows)

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Response{Shape: ShapeUnrecognized}
		}
		rows := report.DecodeRows(obj["rows"])
		if text, ok := outputMessage(obj); ok {
			return Response{Shape: ShapeOutputMessage, Message: &text, Rows: rows}
		}
		if text, ok := decodeString(obj["message"]); ok {
			return Response{Shape: ShapeMessage, Message: &text, Rows: rows}
		}
		return fallback(rows)
	}

	return Response{Shape: ShapeUnrecognized}
}

func fallback(rows []report.Row) Response {
	if len(rows) > 0 {
		return Response{Shape: ShapeRows, Rows: rows}
	}
	return Response{Shape: ShapeUnrecognized}
}

func outputMessage(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["output"]
	if !ok {
		return "", false
	}
	var output map[string]json.RawMessage
	if err := json.Unmarshal(raw, &output); err != nil {
		return "", false
	}
	return decodeString(output["message"])
}

// decodeString only accepts actual JSON strings; null and other types are rejected.
func decodeString(raw []byte) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
