package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/hitl/internal/domain/tool"
)

// DemoTools is the sample catalogue served by the hitl binary: one
// auto-approved tool and three that need a human.
func DemoTools() []tool.Tool {
	return []tool.Tool{
		{
			Name:        "get_weather",
			Description: "Gets the current weather for a city. This tool is auto-approved.",
			Policy:      tool.PolicyAuto,
			Params: []tool.Param{
				{Name: "city", Type: tool.ParamString, Description: "City name", Required: true},
			},
			Run: func(_ context.Context, _ []any, kw map[string]any) (any, error) {
				return fmt.Sprintf("The weather in %s is sunny and 75°F.", str(kw, "city")), nil
			},
		},
		{
			Name:        "send_email",
			Description: "Sends an email.",
			Policy:      tool.PolicyRequireApproval,
			Renderer:    "EditableRenderer",
			Params: []tool.Param{
				{Name: "to", Type: tool.ParamString, Description: "The email address to send the email to.", Required: true},
				{Name: "subject", Type: tool.ParamString, Description: "The subject of the email.", Required: true},
				{Name: "body", Type: tool.ParamString, Description: "The body of the email.", Required: true},
			},
			Run: func(_ context.Context, _ []any, kw map[string]any) (any, error) {
				return fmt.Sprintf("Email with subject '%s' successfully sent to %s.", str(kw, "subject"), str(kw, "to")), nil
			},
		},
		{
			Name:        "delete_file",
			Description: "Deletes a file or directory from the filesystem. Highly sensitive!",
			Policy:      tool.PolicyRequireApproval,
			Renderer:    "FileSystemRenderer",
			Params: []tool.Param{
				{Name: "path", Type: tool.ParamString, Description: "Path to delete", Required: true},
				{Name: "recursive", Type: tool.ParamBoolean, Description: "Delete directories recursively", Required: true},
			},
			Run: func(_ context.Context, _ []any, kw map[string]any) (any, error) {
				if recursive, _ := kw["recursive"].(bool); recursive {
					return "Recursively deleted everything at path: " + str(kw, "path"), nil
				}
				return "Deleted file: " + str(kw, "path"), nil
			},
		},
		{
			Name: "launch_nukes",
			Description: "Launches a non-lethal time weapon that warps space-time to slow down a specific region, " +
				"neutralizing any threat at the location without causing any harm.",
			Policy:   tool.PolicyRequireApproval,
			Renderer: "NukeLaunchRenderer",
			Params: []tool.Param{
				{Name: "target_coordinates", Type: tool.ParamString, Description: "Target coordinates", Required: true},
				{Name: "confirmation_code", Type: tool.ParamString, Description: "Launch confirmation code", Required: true},
			},
			Run: func(_ context.Context, _ []any, kw map[string]any) (any, error) {
				return fmt.Sprintf("Nukes launched at %s. Have a nice day.", str(kw, "target_coordinates")), nil
			},
		},
	}
}

func str(kw map[string]any, key string) string {
	v, ok := kw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
