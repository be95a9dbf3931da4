package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiscoverMethodsCollectsIdentifiers(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		pages++
		if len(req.PayTypes) != 0 {
			t.Fatalf("发现采样不应携带支付方式过滤: %v", req.PayTypes)
		}
		data := []map[string]any{}
		if req.Page == 1 {
			data = append(data,
				advPayload("50.45", "100", "5000", "SkrillMoneybookers", "Skrill"),
				advPayload("50.40", "100", "5000", "Vodafonecash", "Vodafone Cash"),
			)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "000000", "data": data})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	found, err := c.DiscoverMethods(context.Background(), "EGP", 3, 0)
	if err != nil {
		t.Fatalf("发现采样不应报错: %v", err)
	}
	if found["SkrillMoneybookers"] != "Skrill" {
		t.Fatalf("identifier 映射不正确: %v", found)
	}
	if found["Vodafonecash"] != "Vodafone Cash" {
		t.Fatalf("显示名不正确: %v", found)
	}
	// Empty second page truncates each side's sampling.
	if pages > 4 {
		t.Fatalf("空页后应停止采样, 实际请求 %d 页", pages)
	}
}

func TestAliasTableCanonical(t *testing.T) {
	table := NewAliasTable()
	table.Add("EGP", "SkrillMoneybookers", "Skrill")
	table.Add("EGP", "InstaPay", "InstaPay")

	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"SkrillMoneybookers", "SkrillMoneybookers", true},
		{"skrillmoneybookers", "SkrillMoneybookers", true},
		{"Skrill", "SkrillMoneybookers", true},
		{"skri", "SkrillMoneybookers", true},
		{"instapay", "InstaPay", true},
		{"Revolut", "", false},
	}
	for _, tc := range cases {
		got, ok := table.Canonical("EGP", tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Canonical(%q) = %q,%v; want %q,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAliasTableEmptyFiatPassthrough(t *testing.T) {
	table := NewAliasTable()
	got, ok := table.Canonical("SAR", "Whatever")
	if !ok || got != "Whatever" {
		t.Fatalf("空表应原样放行: %q,%v", got, ok)
	}
}

func TestAliasTableDisplayName(t *testing.T) {
	table := NewAliasTable()
	table.Add("EGP", "Vodafonecash", "Vodafone Cash")

	if got := table.DisplayName("EGP", "Vodafonecash"); got != "Vodafone Cash" {
		t.Fatalf("应优先使用发现的显示名: %q", got)
	}
	if got := table.DisplayName("EGP", "SkrillMoneybookers"); got != "Skrill" {
		t.Fatalf("应回退到内置别名: %q", got)
	}
	if got := table.DisplayName("EGP", "Unknown"); got != "Unknown" {
		t.Fatalf("未知标识应原样返回: %q", got)
	}
}
