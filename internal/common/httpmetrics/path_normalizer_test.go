package httpmetrics

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "empty", path: "", want: "/"},
		{name: "static", path: "/api/realtime/publish", want: "/api/realtime/publish"},
		{name: "uuid", path: "/api/realtime/connections/3f2b8c1e-9a4d-4e6f-8b2a-1c3d5e7f9a0b/send", want: "/api/realtime/connections/{id}/send"},
		{name: "malformed connection id", path: "/api/realtime/connections/not-an-id/send", want: "/api/realtime/connections/{id}/send"},
		{name: "numeric", path: "/api/items/42", want: "/api/items/{param}"},
		{name: "collection root", path: "/api/realtime/connections/", want: "/api/realtime/connections/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
