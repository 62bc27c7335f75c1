/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/netmap-over-http/internal/serialization"
)

// RenderCBORPretty decodes data and renders it as indented JSON. Byte strings holding a CBOR
// array or map, such as the payload of a signed artifact, are rendered decoded under "_cbor".
func RenderCBORPretty(data []byte) (string, error) {
	decoded, err := serialization.Decode(data)
	if err != nil {
		return "", err
	}
	normalised, err := normaliseCBORForJSON(decoded)
	if err != nil {
		return "", err
	}

	pretty, err := json.MarshalIndent(normalised, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func normaliseCBORForJSON(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			norm, err := normaliseCBORForJSON(elem)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			norm, err := normaliseCBORForJSON(val)
			if err != nil {
				return nil, err
			}
			out[stringifyCBORKey(key)] = norm
		}
		return out, nil
	case []byte:
		if embedded, ok := decodeEmbedded(v); ok {
			norm, err := normaliseCBORForJSON(embedded)
			if err != nil {
				return nil, err
			}
			return map[string]any{"_cbor": norm}, nil
		}
		return fmt.Sprintf("h'%x'", v), nil
	case cbor.Tag:
		content, err := normaliseCBORForJSON(v.Content)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"_cborTag": v.Number,
			"content":  content,
		}, nil
	default:
		return v, nil
	}
}

func decodeEmbedded(b []byte) (any, bool) {
	if len(b) == 0 {
		return nil, false
	}
	// major type 4 (array) or 5 (map)
	if major := b[0] >> 5; major != 4 && major != 5 {
		return nil, false
	}
	decoded, err := serialization.Decode(b)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func stringifyCBORKey(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
