package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jward/quarry"
)

// envelope is the structured result wrapper every query prints.
type envelope struct {
	Result     any      `json:"result"`
	Warnings   []string `json:"warnings"`
	NextCursor *string  `json:"next_cursor,omitempty"`
}

// output prints a bare value in the selected format.
func output(v any) error {
	return outputEnvelope(envelope{Result: v, Warnings: []string{}})
}

// outputEnvelope prints a full result envelope.
func outputEnvelope(env envelope) error {
	if env.Warnings == nil {
		env.Warnings = []string{}
	}
	switch flagFormat {
	case "text":
		b, err := json.MarshalIndent(env.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(b))
		for _, w := range env.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		return nil
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
}

// cursorFor encodes a next-page cursor when more results remain.
func cursorFor(offset, pageLen, total int) *string {
	next := offset + pageLen
	if next >= total {
		return nil
	}
	s := fmt.Sprintf("%d", next)
	return &s
}

// asQuarryError is errors.As with the package's typed error.
func asQuarryError(err error, target **quarry.Error) bool {
	return errors.As(err, target)
}
