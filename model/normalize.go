package model

import (
	"bytes"
	"encoding/json"
	"sync/atomic"

	"worldsd/config"
)

// The conversation log has accumulated three generations of message body
// encodings, plus whatever malformed rows earlier bugs left behind. Reading
// any of them must never fail: the decoder walks a fixed fallback chain and
// always produces at least one text part.
//
// Precedence:
//  1. object with a typed "parts" array  - decoded verbatim
//  2. array of typed segments            - text segments concatenated,
//     recognizable tool/source segments kept
//  3. plain JSON string                  - single text part
//  4. anything else                      - re-serialized as text (lossy)
//
// Writes always use shape 1, so round-tripping a message the system wrote
// itself is exact.

var normalizationFallbacks atomic.Int64

// NormalizationFallbacks returns how many stored bodies have been decoded
// through the lossy last-resort branch since startup.
func NormalizationFallbacks() int64 {
	return normalizationFallbacks.Load()
}

// PartsFromJSON decodes a stored message body into canonical parts.
// The second return is true when the lossy fallback was taken.
func PartsFromJSON(raw []byte) ([]Part, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []Part{{Type: PartText, Text: ""}}, false
	}

	switch raw[0] {
	case '{':
		var envelope struct {
			Parts   []json.RawMessage `json:"parts"`
			Content json.RawMessage   `json:"content"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil {
			if envelope.Parts != nil {
				return decodePartList(envelope.Parts, false)
			}
			// No parts array; a flat content string is still usable.
			var text string
			if len(envelope.Content) > 0 && json.Unmarshal(envelope.Content, &text) == nil {
				return []Part{{Type: PartText, Text: text}}, false
			}
		}
	case '[':
		var segments []json.RawMessage
		if err := json.Unmarshal(raw, &segments); err == nil {
			return decodePartList(segments, true)
		}
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return []Part{{Type: PartText, Text: text}}, false
		}
	}

	return fallbackPart(raw)
}

// decodePartList decodes a list of typed segments. When collapseText is set
// (legacy array shape), consecutive text segments are concatenated into a
// single text part.
func decodePartList(segments []json.RawMessage, collapseText bool) ([]Part, bool) {
	parts := make([]Part, 0, len(segments))
	fallback := false

	appendText := func(text string) {
		if collapseText && len(parts) > 0 && parts[len(parts)-1].Type == PartText {
			parts[len(parts)-1].Text += text
			return
		}
		parts = append(parts, Part{Type: PartText, Text: text})
	}

	for _, seg := range segments {
		var p Part
		if err := json.Unmarshal(seg, &p); err == nil && knownPartType(p.Type) {
			if p.Type == PartText {
				appendText(p.Text)
			} else {
				parts = append(parts, p)
			}
			continue
		}
		// Unknown segment shape: keep the raw JSON as text rather than
		// dropping content on the floor.
		appendText(string(compactJSON(seg)))
		fallback = true
	}

	if len(parts) == 0 {
		parts = append(parts, Part{Type: PartText, Text: ""})
	}
	if fallback {
		recordFallback(nil)
	}
	return parts, fallback
}

func knownPartType(t PartType) bool {
	switch t {
	case PartText, PartReasoning, PartToolInvocation, PartSource:
		return true
	}
	return false
}

func fallbackPart(raw []byte) ([]Part, bool) {
	recordFallback(raw)
	return []Part{{Type: PartText, Text: string(compactJSON(raw))}}, true
}

func recordFallback(raw []byte) {
	normalizationFallbacks.Add(1)
	if config.DebugLog != nil {
		if raw != nil {
			config.DebugLog.Printf("message normalization fallback: unrecognized body (%d bytes)", len(raw))
		} else {
			config.DebugLog.Printf("message normalization fallback: unrecognized segment")
		}
	}
}

func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return bytes.TrimSpace(raw)
	}
	return buf.Bytes()
}

// PartsJSON encodes parts in the canonical write shape. Everything the
// system persists goes through here, so PartsFromJSON(PartsJSON(p)) is
// exact for self-written messages.
func PartsJSON(parts []Part) ([]byte, error) {
	envelope := struct {
		Parts []Part `json:"parts"`
	}{Parts: parts}
	return json.Marshal(envelope)
}
