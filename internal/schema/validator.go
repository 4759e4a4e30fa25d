// Package schema validates the client handshake message.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"ai-voice-bridge-service/internal/service/session"
)

// ErrHandshake wraps every handshake validation failure.
var ErrHandshake = errors.New("invalid handshake")

// Handshake is the validated first message of a connection.
type Handshake struct {
	AuthToken string
	Projects  []string
	Tasks     []session.Task
}

// Validator checks handshake payloads. A missing or null authToken is
// tolerated; malformed JSON and wrongly typed fields are rejected.
type Validator struct {
	// RequireToken rejects handshakes without an authToken.
	RequireToken bool
}

func New() *Validator {
	return &Validator{}
}

// ValidateHandshake parses and validates raw.
func (v *Validator) ValidateHandshake(raw []byte) (Handshake, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if fields == nil {
		return Handshake{}, fmt.Errorf("%w: expected an object", ErrHandshake)
	}

	var hs Handshake

	var token *string
	if err := decodeField(fields, "authToken", &token); err != nil {
		return Handshake{}, err
	}
	if token != nil {
		hs.AuthToken = *token
	}
	if v.RequireToken && hs.AuthToken == "" {
		return Handshake{}, fmt.Errorf("%w: authToken is required", ErrHandshake)
	}

	if err := decodeField(fields, "projects", &hs.Projects); err != nil {
		return Handshake{}, err
	}
	if err := decodeField(fields, "tasks", &hs.Tasks); err != nil {
		return Handshake{}, err
	}
	for i, t := range hs.Tasks {
		if t == nil {
			return Handshake{}, fmt.Errorf("%w: tasks[%d] must be an object", ErrHandshake, i)
		}
	}

	log.Debug().
		Bool("hasToken", hs.AuthToken != "").
		Int("projects", len(hs.Projects)).
		Int("tasks", len(hs.Tasks)).
		Msg("Handshake validated")
	return hs, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %s: %v", ErrHandshake, name, err)
	}
	return nil
}
