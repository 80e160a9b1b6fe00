package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/tools"
)

// registerBuiltinTools wires the small general-purpose tools every project
// can allowlist. Channel- or tenant-specific tools register elsewhere.
// remember is nil when long-term memory has no store.
func registerBuiltinTools(registry *tools.Registry, remember func(ctx context.Context, projectID string, in memory.StoreInput) error) {
	builtins := []tools.Tool{
		tools.New(tools.Spec{
			ID:          "current_time",
			Description: "Returns the current date and time. Accepts an optional IANA timezone (e.g. \"Europe/Berlin\").",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"timezone": {"type": "string", "description": "IANA timezone name; defaults to UTC"}
				}
			}`),
			Run: func(ctx context.Context, input json.RawMessage, ec *tools.ExecContext) (*tools.Result, error) {
				var args struct {
					Timezone string `json:"timezone"`
				}
				if len(input) > 0 {
					if err := json.Unmarshal(input, &args); err != nil {
						return &tools.Result{Content: "invalid input: " + err.Error(), IsError: true}, nil
					}
				}
				loc := time.UTC
				if args.Timezone != "" {
					var err error
					loc, err = time.LoadLocation(args.Timezone)
					if err != nil {
						return &tools.Result{Content: fmt.Sprintf("unknown timezone %q", args.Timezone), IsError: true}, nil
					}
				}
				return &tools.Result{Content: time.Now().In(loc).Format(time.RFC1123)}, nil
			},
		}),
		tools.New(tools.Spec{
			ID:          "word_count",
			Description: "Counts the words and characters in a piece of text.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string"}
				},
				"required": ["text"]
			}`),
			Run: func(ctx context.Context, input json.RawMessage, ec *tools.ExecContext) (*tools.Result, error) {
				var args struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return &tools.Result{Content: "invalid input: " + err.Error(), IsError: true}, nil
				}
				words := len(strings.Fields(args.Text))
				return &tools.Result{
					Content: fmt.Sprintf("%d words, %d characters", words, len(args.Text)),
				}, nil
			},
		}),
	}
	if remember != nil {
		builtins = append(builtins, tools.New(tools.Spec{
			ID:          "remember",
			Description: "Stores a fact in long-term memory so later conversations can recall it.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "The fact to remember"},
					"category": {"type": "string", "description": "Optional grouping, e.g. \"preference\""}
				},
				"required": ["content"]
			}`),
			HasSideEffects: true,
			Run: func(ctx context.Context, input json.RawMessage, ec *tools.ExecContext) (*tools.Result, error) {
				var args struct {
					Content  string `json:"content"`
					Category string `json:"category"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return &tools.Result{Content: "invalid input: " + err.Error(), IsError: true}, nil
				}
				if strings.TrimSpace(args.Content) == "" {
					return &tools.Result{Content: "content is empty", IsError: true}, nil
				}
				category := args.Category
				if category == "" {
					category = "fact"
				}
				err := remember(ctx, ec.ProjectID, memory.StoreInput{
					SessionID: ec.SessionID,
					Content:   args.Content,
					Category:  category,
				})
				if err != nil {
					return &tools.Result{Content: "memory store failed: " + err.Error(), IsError: true}, nil
				}
				return &tools.Result{Content: "remembered"}, nil
			},
		}))
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			slog.Warn("builtin tool registration failed", "tool", t.Name(), "error", err)
		}
	}
}
