package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

const (
	aliasSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["alias"],
  "properties": {
    "alias": {"type": "string", "minLength": 5, "maxLength": 100}
  }
}`

	depositSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["card_id", "amount"],
  "properties": {
    "card_id": {"type": "integer", "minimum": 1},
    "amount": {"type": ["string", "number"]},
    "description": {"type": "string", "maxLength": 255}
  }
}`

	transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["destination", "amount"],
  "properties": {
    "destination": {"type": "string", "minLength": 1, "maxLength": 100},
    "amount": {"type": ["string", "number"]},
    "description": {"type": "string", "maxLength": 255}
  }
}`

	cardSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["last_four", "holder_name", "expires_on", "type", "brand"],
  "properties": {
    "last_four": {"type": "string", "pattern": "^[0-9]{4}$"},
    "holder_name": {"type": "string", "minLength": 1, "maxLength": 100},
    "expires_on": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "type": {"enum": ["DEBIT", "CREDIT"]},
    "brand": {"enum": ["VISA", "MASTERCARD", "AMEX", "MAESTRO"]}
  }
}`
)

type schemas struct {
	alias    *jsonschema.Schema
	deposit  *jsonschema.Schema
	transfer *jsonschema.Schema
	card     *jsonschema.Schema
}

func mustCompileSchemas() *schemas {
	return &schemas{
		alias:    jsonschema.MustCompileString("alias.json", aliasSchema),
		deposit:  jsonschema.MustCompileString("deposit.json", depositSchema),
		transfer: jsonschema.MustCompileString("transfer.json", transferSchema),
		card:     jsonschema.MustCompileString("card.json", cardSchema),
	}
}

// decodeJSON reads one JSON document, validates it against schema and
// decodes it into dst without tolerating unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errors.New("request body too large")
		}
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is required")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return schemaError(err)
		}
	}

	dec = json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// schemaError reduces a validation tree to its first leaf, which names the
// offending field.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		return fmt.Errorf("invalid request body: %s", ve.Message)
	}
	return fmt.Errorf("invalid %s: %s", field, ve.Message)
}
