package models

import (
	"bytes"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cast"
)

const pasteSchemaURL = "https://cloutdash.local/schema/paste.json"

const pasteSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {"type": "array", "items": {"$ref": "#/$defs/event"}},
    {
      "type": "object",
      "required": ["receipts"],
      "properties": {
        "receipts": {"type": "array", "items": {"$ref": "#/$defs/event"}},
        "bounties": {"type": "array", "items": {"$ref": "#/$defs/bounty"}}
      }
    }
  ],
  "$defs": {
    "event": {
      "type": "object",
      "properties": {
        "user": {"type": ["string", "null"]},
        "action": {"type": ["string", "null"]},
        "concept": {"type": ["string", "null"]},
        "amount": {"type": ["number", "string", "null"]},
        "timestamp": {"type": ["string", "null"]},
        "raw": {"type": ["string", "null"]}
      }
    },
    "bounty": {
      "type": "object",
      "properties": {
        "amount": {"type": ["number", "string"]},
        "timestamp": {"type": ["string", "null"]}
      }
    }
  }
}`

var compilePasteSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pasteSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(pasteSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(pasteSchemaURL)
})

// PastePayload is a decoded paste in either accepted shape.
type PastePayload struct {
	Receipts []*Event
	Bounties []Bounty
	Legacy   bool
}

type bountyWire struct {
	Amount    interface{} `json:"amount"`
	Timestamp string      `json:"timestamp"`
}

type pasteWire struct {
	Receipts []*Event     `json:"receipts"`
	Bounties []bountyWire `json:"bounties"`
}

// ParsePaste decodes pasted text. Either the whole paste is accepted or a ParseError is returned.
func ParsePaste(text []byte) (*PastePayload, error) {
	text = bytes.TrimSpace(text)
	if len(text) == 0 {
		return nil, &ParseError{Reason: "empty paste"}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(text))
	if err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Err: err}
	}
	schema, err := compilePasteSchema()
	if err != nil {
		return nil, &ParseError{Reason: "schema unavailable", Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return nil, &ParseError{Reason: "unrecognized shape", Err: err}
	}

	payload := &PastePayload{}
	if text[0] == '[' {
		var receipts []*Event
		if err := json.Unmarshal(text, &receipts); err != nil {
			return nil, &ParseError{Reason: "malformed receipts", Err: err}
		}
		payload.Receipts = receipts
		payload.Legacy = true
	} else {
		var w pasteWire
		if err := json.Unmarshal(text, &w); err != nil {
			return nil, &ParseError{Reason: "malformed receipts", Err: err}
		}
		payload.Receipts = w.Receipts
		for _, b := range w.Bounties {
			amount, err := cast.ToInt64E(b.Amount)
			if err != nil {
				return nil, &ParseError{Reason: "malformed bounty amount", Err: err}
			}
			payload.Bounties = append(payload.Bounties, Bounty{Amount: abs(amount), Timestamp: b.Timestamp})
		}
	}

	receipts := payload.Receipts[:0]
	for _, e := range payload.Receipts {
		if e != nil {
			receipts = append(receipts, e)
		}
	}
	payload.Receipts = receipts
	return payload, nil
}

// BountiesFromEvents derives untagged bounties from bounty receipts.
func BountiesFromEvents(events []*Event) []Bounty {
	out := make([]Bounty, 0)
	for _, e := range events {
		if e.Action != ActionBounty || !e.HasTimestamp() {
			continue
		}
		out = append(out, Bounty{Amount: abs(e.Amount), Timestamp: e.Timestamp})
	}
	return out
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
