package logger

import "testing"

func TestMaskToken(t *testing.T) {
	got := MaskToken("sq0atp-abcdef1234")
	want := "****1234"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskAuthorization(t *testing.T) {
	got := MaskAuthorization("Bearer abcdef1234")
	want := "Bearer ****1234"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskJSON(t *testing.T) {
	input := map[string]any{
		"access_token":  "sq0atp-12345678",
		"refresh_token": "sq0rtp-12345678",
		"merchant": map[string]any{
			"api_key": "key_12345678",
			"name":    "Corner Cafe",
		},
	}
	masked := MaskJSON(input)
	if masked["access_token"] != "****5678" {
		t.Fatalf("expected masked access_token, got %v", masked["access_token"])
	}
	if masked["refresh_token"] != "****5678" {
		t.Fatalf("expected masked refresh_token, got %v", masked["refresh_token"])
	}
	merchant, ok := masked["merchant"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map")
	}
	if merchant["api_key"] != "****5678" {
		t.Fatalf("expected masked api_key, got %v", merchant["api_key"])
	}
	if merchant["name"] != "Corner Cafe" {
		t.Fatalf("expected name untouched, got %v", merchant["name"])
	}
}
