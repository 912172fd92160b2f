// Package privileged hands a structured request from the unprivileged CLI
// to the root-only apply helper.
package privileged

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gajzzs/blocksites/internal/schema"
)

type Op string

// OpApply installs a new block.
const OpApply Op = "apply"

// Request is everything the helper needs; it derives the hosts block and
// the packet filter rules from Config and IPCache itself.
type Request struct {
	Op      Op                        `json:"op"`
	Config  schema.BlockConfiguration `json:"config"`
	IPCache schema.IPCache            `json:"ipCache"`
}

func (r *Request) Validate() error {
	switch r.Op {
	case OpApply:
	default:
		return fmt.Errorf("unknown operation %q", r.Op)
	}
	return r.Config.Validate()
}

// WriteRequest stores r in a private temp file and returns its path.
func WriteRequest(r *Request) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	f, err := os.CreateTemp("", "blocksites-request-*.json")
	if err != nil {
		return "", fmt.Errorf("create request file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write request file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close request file: %w", err)
	}
	return f.Name(), nil
}

// ReadRequest decodes and validates the request at path.
func ReadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &r, nil
}
