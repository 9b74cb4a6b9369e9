// Package idempotency derives deterministic event identifiers so that a
// repeated submission of the same logical event is never applied twice.
//
// A key is {entity}_{operation}_{hash32} where hash32 is the first 32 hex
// characters of the SHA-256 of the canonical JSON of the five identity fields
// plus the payload. Payloads are compared by value: maps are serialized with
// sorted keys, so {"a":1,"b":2} and {"b":2,"a":1} yield the same key.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Tables carrying a unique event_id column.
const (
	TableJourneyEvents = "journey_events"
	TableAuditLogs     = "audit_logs"
	TableInterventions = "interventions"
)

var ErrMissingField = errors.New("idempotency: missing identity field")

const hashLength = 32

// Key returns the idempotency key of a logical event. All identity fields are
// required.
func Key(entity, entityID, operation, userID, workspaceID string, payload any) (string, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"entity", entity},
		{"entity_id", entityID},
		{"operation", operation},
		{"user_id", userID},
		{"workspace_id", workspaceID},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}

	canonical, err := Canonicalize(map[string]any{
		"entity":       entity,
		"entity_id":    entityID,
		"operation":    operation,
		"user_id":      userID,
		"workspace_id": workspaceID,
		"payload":      payload,
	})
	if err != nil {
		return "", fmt.Errorf("idempotency key %s_%s: %w", entity, operation, err)
	}
	sum := sha256.Sum256(canonical)
	return entity + "_" + operation + "_" + hex.EncodeToString(sum[:])[:hashLength], nil
}

// Canonicalize serializes payload with object keys sorted lexicographically at
// every depth, arrays in order and primitives in standard JSON form. A nil
// payload canonicalizes to null.
func Canonicalize(payload any) ([]byte, error) {
	tree, err := normalize(payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize turns any JSON-encodable value into the generic tree produced by
// encoding/json, keeping numbers as their literal text.
func normalize(payload any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return tree, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// EventStore looks up event_id values on event-sourced tables.
type EventStore interface {
	EventExists(ctx context.Context, table, eventID string) (bool, error)
}

// Checker answers whether an event was already processed.
type Checker struct {
	store EventStore
	log   *slog.Logger
}

func NewChecker(store EventStore, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{store: store, log: log}
}

// IsProcessed fails open: when the lookup itself errors the event is treated
// as not processed, so a transient read failure never blocks processing. The
// unique event_id constraint remains the final guard.
func (c *Checker) IsProcessed(ctx context.Context, table, eventID string) bool {
	exists, err := c.store.EventExists(ctx, table, eventID)
	if err != nil {
		c.log.Warn("idempotency check failed, treating as unprocessed",
			"table", table, "event_id", eventID, "error", err)
		return false
	}
	return exists
}
