package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=5&offset=10"))

	if p.Limit != 5 {
		t.Errorf("expected limit 5, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(newContext("/?limit=5000"))

	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_InvalidValues(t *testing.T) {
	p := FromContext(newContext("/?limit=abc&offset=-3"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit for garbage input, got %d", p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected negative offset clamped to 0, got %d", p.Offset)
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"first page with more", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact last page", Params{Limit: 10, Offset: 20}, 30, false},
		{"past the end", Params{Limit: 10, Offset: 40}, 30, false},
		{"empty", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)

	if r.Total != 5 {
		t.Errorf("expected total 5, got %d", r.Total)
	}
	if !r.HasMore {
		t.Error("expected HasMore to be true")
	}
	if r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %v", r.NextOffset)
	}
}

func TestNewResponse_LastPage(t *testing.T) {
	r := NewResponse([]string{"e"}, 5, 2, 4)

	if r.HasMore {
		t.Error("expected HasMore to be false on the last page")
	}
	if r.NextOffset != nil {
		t.Errorf("expected no next offset, got %d", *r.NextOffset)
	}
}
