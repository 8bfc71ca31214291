package mcp_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpchat/mcp"
	"github.com/stretchr/testify/assert"
)

func TestFlatten(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		items []mcp.Content
		exp   string
	}{
		{"empty", nil, ""},
		{"single", []mcp.Content{mcp.TextContent{Text: "A"}}, "A"},
		{"two texts", []mcp.Content{mcp.TextContent{Text: "A"}, mcp.TextContent{Text: "B"}}, "A\nB"},
		{
			"mixed",
			[]mcp.Content{
				mcp.TextContent{Text: "A"},
				mcp.OtherContent{Type: "image", Raw: json.RawMessage(`{"type":"image","mimeType":"image/png"}`)},
				nil,
				mcp.OtherContent{Type: "audio"},
			},
			"A\n{\"type\":\"image\",\"mimeType\":\"image/png\"}\n[audio]",
		},
		{"empty text keeps separator", []mcp.Content{mcp.TextContent{}, mcp.TextContent{Text: "B"}}, "\nB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exp, mcp.Flatten(tt.items))
		})
	}
}
