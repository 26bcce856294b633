package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExecuteRequestJSONFieldNames(t *testing.T) {
	req := ExecuteRequest{
		ContextID: "ctx-1",
		Params:    map[string]interface{}{"selector": "#submit"},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	jsonStr := string(data)
	for _, field := range []string{`"context_id"`, `"params"`} {
		if !strings.Contains(jsonStr, field) {
			t.Errorf("expected field %s not found in %s", field, jsonStr)
		}
	}
}

func Test_ExecuteResponse_ErrorOmittedOnSuccess(t *testing.T) {
	resp := ExecuteResponse{Success: true, Result: "ok"}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if strings.Contains(string(data), `"error"`) {
		t.Errorf("error field should be omitted on success, got %s", data)
	}
}

func Test_WireErrorBody_Deserialization(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantReason string
		wantRetry  int
	}{
		{
			name:       "rate limited",
			json:       `{"reason":"rate_limited","retry_after":5,"limit":10,"remaining":0}`,
			wantReason: "rate_limited",
			wantRetry:  5,
		},
		{
			name:       "validation error with missing fields",
			json:       `{"reason":"validation_error","missing_fields":["url"]}`,
			wantReason: "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body WireErrorBody
			if err := json.Unmarshal([]byte(tt.json), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", body.Reason, tt.wantReason)
			}
			if body.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %d, want %d", body.RetryAfter, tt.wantRetry)
			}
		})
	}
}

func Test_CommandRequest_RoundTrip(t *testing.T) {
	req := CommandRequest{Cmd: CmdContextCreate, ServiceTag: "crawler"}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded CommandRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Cmd != CmdContextCreate {
		t.Errorf("Cmd = %q, want %q", decoded.Cmd, CmdContextCreate)
	}
	if decoded.ServiceTag != "crawler" {
		t.Errorf("ServiceTag = %q, want %q", decoded.ServiceTag, "crawler")
	}
}
