package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SystemPerfPath is the system performance endpoint, served over REST and as
// a WebSocket stream.
const SystemPerfPath = "api/resourcemanager/systemperf"

// envelopePaths lists endpoints that sometimes return their payload as an
// escaped string inside {"Reason":"..."} with a success status.
var envelopePaths = map[string]struct{}{
	SystemPerfPath: {},
}

var errEnvelopeNotObject = errors.New("envelope does not contain a JSON object")

func hasEnvelopeShim(path string) bool {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	_, ok := envelopePaths[path]
	return ok
}

// unwrapEnvelope extracts the escaped payload from the error envelope: an
// object whose only member is a string "Reason". Whitespace around the
// member is irrelevant. wrapped is false, and body is returned unchanged,
// when the envelope is absent.
func unwrapEnvelope(body []byte) (payload []byte, wrapped bool, err error) {
	var members map[string]json.RawMessage
	if json.Unmarshal(body, &members) != nil || len(members) != 1 {
		return body, false, nil
	}
	raw, ok := members["Reason"]
	if !ok {
		return body, false, nil
	}
	var reason string
	if json.Unmarshal(raw, &reason) != nil {
		return body, false, nil
	}

	inner := bytes.TrimSpace([]byte(reason))
	if len(inner) == 0 || inner[0] != '{' || !json.Valid(inner) {
		return nil, true, errEnvelopeNotObject
	}
	return inner, true, nil
}

// decodeJSON decodes body into out, unwrapping the envelope first on the
// endpoints known to produce it.
func decodeJSON(path, uri string, body []byte, out any) error {
	if hasEnvelopeShim(path) {
		inner, wrapped, err := unwrapEnvelope(body)
		if wrapped && err != nil {
			return &ProtocolFormatError{URI: uri, Err: fmt.Errorf("unwrapping envelope: %w", err)}
		}
		body = inner
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolFormatError{URI: uri, Err: err}
	}
	return nil
}
