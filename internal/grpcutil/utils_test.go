package grpcutil

import (
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arpa-simc/provami/internal/dballe"
)

func TestToStructUsesJSONEncoding(t *testing.T) {
	s, err := ToStruct(map[string]any{"level": dballe.NewLevel(1), "count": 3})
	if err != nil {
		t.Fatal(err)
	}
	level := s.GetFields()["level"].GetListValue().GetValues()
	if len(level) != 4 || level[0].GetNumberValue() != 1 {
		t.Errorf("level = %v", level)
	}
	if _, ok := level[1].GetKind().(*structpb.Value_NullValue); !ok {
		t.Errorf("missing level component = %v, want null", level[1])
	}

	if _, err := ToStruct([]int{1}); err == nil {
		t.Error("expected an error for a non-object payload")
	}
}

func TestParseCall(t *testing.T) {
	req, err := structpb.NewStruct(map[string]any{
		"op":   "set_filter",
		"args": map[string]any{"filter": map[string]any{"rep_memo": "synop"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	op, args, err := ParseCall(req)
	if err != nil {
		t.Fatal(err)
	}
	if op != "set_filter" {
		t.Errorf("op = %q", op)
	}
	obj, err := args.Object("filter")
	if err != nil {
		t.Fatal(err)
	}
	if string(obj["rep_memo"]) != `"synop"` {
		t.Errorf("rep_memo = %s", obj["rep_memo"])
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		in   int
		want codes.Code
	}{
		{http.StatusOK, codes.OK},
		{http.StatusBadRequest, codes.InvalidArgument},
		{http.StatusNotFound, codes.NotFound},
		{http.StatusUnauthorized, codes.Unauthenticated},
		{http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.in); got != tt.want {
			t.Errorf("StatusCode(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
