package tools

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/amayahq/amaya/internal/memory"
)

// MemoryReadInput is the input for the memory_read tool.
type MemoryReadInput struct {
	Path string `json:"path"`
}

// MemoryReadOutput is the output for the memory_read tool.
type MemoryReadOutput struct {
	Content string `json:"content"`
}

// MemoryWriteInput is the input for the memory_write tool.
type MemoryWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

// MemoryWriteOutput is the output for the memory_write tool.
type MemoryWriteOutput struct {
	Written bool   `json:"written"`
	Path    string `json:"path"`
}

// MemoryListInput is the input for the memory_list tool.
type MemoryListInput struct {
	Dir string `json:"dir,omitempty"`
}

// MemoryListOutput is the output for the memory_list tool.
type MemoryListOutput struct {
	Entries []memory.FileInfo `json:"entries"`
}

// PinInput is the input for the pin_context tool.
type PinInput struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

// UnpinInput is the input for the unpin_context tool.
type UnpinInput struct {
	Label string `json:"label"`
}

// PinOutput is the output for the pin tools.
type PinOutput struct {
	OK bool `json:"ok"`
}

func registerMemoryTools(g *genkit.Genkit, r *Registry) []ai.ToolRef {
	readTool := genkit.DefineTool(g, "memory_read",
		"Read a file from the user's memory bank. Path is relative to the memory root; MEMORY.md holds the core notes.",
		func(ctx *ai.ToolContext, input MemoryReadInput) (MemoryReadOutput, error) {
			ws, err := r.Bank.ForOwner(ownerFrom(ctx))
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryReadOutput{}, err
			}
			content, err := ws.Read(input.Path)
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryReadOutput{}, err
			}
			return MemoryReadOutput{Content: content}, nil
		},
	)

	writeTool := genkit.DefineTool(g, "memory_write",
		"Write or append a file in the user's memory bank. Set append=true to append instead of overwrite. Use MEMORY.md for durable notes about the user.",
		func(ctx *ai.ToolContext, input MemoryWriteInput) (MemoryWriteOutput, error) {
			ws, err := r.Bank.ForOwner(ownerFrom(ctx))
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryWriteOutput{}, err
			}
			if input.Append {
				err = ws.Append(input.Path, input.Content)
			} else {
				err = ws.Write(input.Path, input.Content)
			}
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryWriteOutput{}, err
			}
			return MemoryWriteOutput{Written: true, Path: input.Path}, nil
		},
	)

	listTool := genkit.DefineTool(g, "memory_list",
		"List files in the user's memory bank. Dir defaults to the memory root.",
		func(ctx *ai.ToolContext, input MemoryListInput) (MemoryListOutput, error) {
			ws, err := r.Bank.ForOwner(ownerFrom(ctx))
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryListOutput{}, err
			}
			dir := input.Dir
			if dir == "" {
				dir = "."
			}
			entries, err := ws.List(dir)
			if err != nil {
				r.Tel.AddToolCallError(ctx)
				return MemoryListOutput{}, err
			}
			if entries == nil {
				entries = []memory.FileInfo{}
			}
			return MemoryListOutput{Entries: entries}, nil
		},
	)

	pinTool := genkit.DefineTool(g, "pin_context",
		"Pin a labeled snippet so it appears in every future conversation. Re-pinning a label replaces its content.",
		func(ctx *ai.ToolContext, input PinInput) (PinOutput, error) {
			if r.Pins == nil {
				return PinOutput{}, fmt.Errorf("pinning is not available")
			}
			if err := r.Pins.AddPin(ctx, ownerFrom(ctx), input.Label, input.Content); err != nil {
				r.Tel.AddToolCallError(ctx)
				return PinOutput{}, err
			}
			return PinOutput{OK: true}, nil
		},
	)

	unpinTool := genkit.DefineTool(g, "unpin_context",
		"Remove a pinned snippet by its label.",
		func(ctx *ai.ToolContext, input UnpinInput) (PinOutput, error) {
			if r.Pins == nil {
				return PinOutput{}, fmt.Errorf("pinning is not available")
			}
			if err := r.Pins.RemovePin(ctx, ownerFrom(ctx), input.Label); err != nil {
				r.Tel.AddToolCallError(ctx)
				return PinOutput{}, err
			}
			return PinOutput{OK: true}, nil
		},
	)

	return []ai.ToolRef{readTool, writeTool, listTool, pinTool, unpinTool}
}
