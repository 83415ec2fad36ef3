package responseformat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type level [2]int

func (l level) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l[0], nil, l[1]})
}

func TestWriteResponse(t *testing.T) {
	data := map[string]any{"rows": []level{{1, 2}}, "time": 1.5}

	tests := []struct {
		name        string
		url         string
		accept      string
		contentType string
	}{
		{"default", "/api/1.0/get_data", "", ContentTypeJSON},
		{"query parameter", "/api/1.0/get_data?format=msgpack", "", ContentTypeMsgPack},
		{"accept header", "/api/1.0/get_data", ContentTypeMsgPack, ContentTypeMsgPack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			if err := NewFormatter().WriteResponse(rec, req, http.StatusTeapot, data); err != nil {
				t.Fatalf("WriteResponse() error = %v", err)
			}
			if rec.Code != http.StatusTeapot {
				t.Errorf("status = %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.contentType {
				t.Fatalf("Content-Type = %q, want %q", got, tt.contentType)
			}

			var decoded map[string]any
			if tt.contentType == ContentTypeJSON {
				err := json.Unmarshal(rec.Body.Bytes(), &decoded)
				if err != nil {
					t.Fatal(err)
				}
			} else if err := msgpack.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
				t.Fatal(err)
			}
			rows := decoded["rows"].([]any)
			first := rows[0].([]any)
			if len(first) != 3 || first[1] != nil {
				t.Errorf("row = %#v, want the custom JSON shape", first)
			}
			if decoded["time"] != 1.5 {
				t.Errorf("time = %#v", decoded["time"])
			}
		})
	}
}
