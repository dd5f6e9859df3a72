// Package bus implements the Realtime Bus: it routes mission status,
// log, stats, and artifact events to subscribed client connections with
// duplicate suppression, queued retry delivery, stale-connection
// sweeping, and a one-live-connection rule for writing sessions. The
// transport itself (WebSocket handling) lives outside this module;
// clients hand the bus a Sink.
package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire message every realtime delivery carries.
type Envelope struct {
	Type      string      `json:"type"`
	MissionID string      `json:"mission_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	MsgID     string      `json:"_msg_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// newEnvelope stamps a fresh message id and timestamp.
func newEnvelope(typ, missionID, sessionID string, payload interface{}) Envelope {
	return Envelope{
		Type: typ, MissionID: missionID, SessionID: sessionID,
		MsgID: uuid.New().String(), Timestamp: time.Now(), Payload: payload,
	}
}

// contentHash fingerprints (content, target set) for dedup: the same
// payload sent to the same targets within the dedup window is dropped.
// MsgID and Timestamp are excluded so two stampings of the same content
// still collide.
func contentHash(e Envelope, targets []string) string {
	stripped := e
	stripped.MsgID = ""
	stripped.Timestamp = time.Time{}
	data, err := json.Marshal(stripped)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", stripped))
	}
	sorted := append([]string{}, targets...)
	sort.Strings(sorted)
	sum := sha256.Sum256(append(data, []byte(strings.Join(sorted, ","))...))
	return hex.EncodeToString(sum[:])
}
