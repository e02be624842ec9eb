// Package bus routes typed messages between UI surfaces, the settings
// store, the playback surface, and in-page probes.
//
// Inbound messages are validated, deduplicated, queued by priority, and
// dispatched to a registered handler by a single worker. Handlers never
// leak errors or panics to callers: every post receives a typed reply.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dhkwon/voxbridge/internal/friendly"
	"github.com/dhkwon/voxbridge/internal/settings"
	"github.com/dhkwon/voxbridge/internal/tts"
)

// Type is the closed set of wire message types.
type Type string

const (
	TypePlay          Type = "TTS_PLAY"
	TypeStop          Type = "TTS_STOP"
	TypePause         Type = "TTS_PAUSE"
	TypeResume        Type = "TTS_RESUME"
	TypeExecute       Type = "TTS_EXECUTE"
	TypeStopExecute   Type = "TTS_STOP_EXECUTE"
	TypePauseExecute  Type = "TTS_PAUSE_EXECUTE"
	TypeResumeExecute Type = "TTS_RESUME_EXECUTE"
	TypeStarted       Type = "TTS_STARTED"
	TypeProgress      Type = "TTS_PROGRESS"
	TypeCompleted     Type = "TTS_COMPLETED"
	TypeTTSError      Type = "TTS_ERROR"
	TypeStopped       Type = "TTS_STOPPED"

	TypeSettingsGet           Type = "SETTINGS_GET"
	TypeSettingsUpdate        Type = "SETTINGS_UPDATE"
	TypeSettingsPartialUpdate Type = "SETTINGS_PARTIAL_UPDATE"
	TypeSettingsReset         Type = "SETTINGS_RESET"
	TypeSettingsValidate      Type = "SETTINGS_VALIDATE"

	TypeVoiceDetection        Type = "VOICE_DETECTION"
	TypeVoiceRecognitionState Type = "VOICE_RECOGNITION_STATE"

	TypePermissionsCheck   Type = "PERMISSIONS_CHECK"
	TypePermissionsRequest Type = "PERMISSIONS_REQUEST"
	TypePermissionsStatus  Type = "PERMISSIONS_STATUS"

	TypeError Type = "ERROR"
)

// knownTypes is the closed wire set; anything else replies NoHandler.
var knownTypes = map[Type]struct{}{
	TypePlay: {}, TypeStop: {}, TypePause: {}, TypeResume: {},
	TypeExecute: {}, TypeStopExecute: {}, TypePauseExecute: {}, TypeResumeExecute: {},
	TypeStarted: {}, TypeProgress: {}, TypeCompleted: {}, TypeTTSError: {}, TypeStopped: {},
	TypeSettingsGet: {}, TypeSettingsUpdate: {}, TypeSettingsPartialUpdate: {},
	TypeSettingsReset: {}, TypeSettingsValidate: {},
	TypeVoiceDetection: {}, TypeVoiceRecognitionState: {},
	TypePermissionsCheck: {}, TypePermissionsRequest: {}, TypePermissionsStatus: {},
	TypeError: {},
}

// Known reports whether t belongs to the wire set.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Priority returns the queue priority for t: 1 is highest, 6 lowest.
func (t Type) Priority() int {
	switch t {
	case TypeStop, TypePause, TypeResume, TypeStopExecute, TypePauseExecute, TypeResumeExecute:
		return 1
	case TypePlay:
		return 2
	case TypeSettingsGet, TypeSettingsUpdate, TypeSettingsPartialUpdate, TypeSettingsReset, TypeSettingsValidate:
		return 3
	case TypePermissionsCheck, TypePermissionsRequest, TypePermissionsStatus:
		return 4
	default:
		return 6
	}
}

// Message is the unit of cross-surface communication.
type Message struct {
	Type Type `json:"type"`

	// Payload is the typed body for this message type, or nil.
	Payload any `json:"payload"`

	// Timestamp is creation time in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`

	// Sender identifies the posting surface or probe. Not part of the
	// wire body; used for deduplication.
	Sender string `json:"-"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(t Type, payload any, sender string) Message {
	return Message{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Sender:    sender,
	}
}

// ErrInvalidMessage reports a message that fails format validation.
var ErrInvalidMessage = errors.New("bus: invalid message")

// ValidateMessage checks the message format: a non-empty type and a
// positive timestamp. Unknown-but-well-formed types pass validation and
// are rejected later with a NoHandler reply.
func ValidateMessage(m Message) error {
	if m.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMessage)
	}
	return nil
}

// Reply is the uniform response to a posted message.
type Reply struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ok and fail are reply constructors.
func ok(data any) Reply     { return Reply{Success: true, Data: data} }
func fail(msg string) Reply { return Reply{Success: false, Error: msg} }

// dedupKey derives the recent-message map key from the message type, the
// sender identity, and the canonical (JSON) payload.
func dedupKey(m Message) string {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", m.Payload))
	}
	return string(m.Type) + "|" + m.Sender + "|" + string(payload)
}

// --- Typed payloads ---

// PlayPayload asks for text to be spoken. Options overlay the user's
// saved TTS settings.
type PlayPayload struct {
	Text    string        `json:"text"`
	Options *tts.Override `json:"options,omitempty"`
}

// PlayAck acknowledges a play request with the merged effective options.
type PlayAck struct {
	Status  string      `json:"status"`
	Text    string      `json:"text"`
	Options tts.Options `json:"options"`
}

// ExecutePayload is broadcast to the playback surface.
type ExecutePayload struct {
	Text    string      `json:"text"`
	Options tts.Options `json:"options"`
}

// PlaybackEvent reports a playback lifecycle transition back from the
// playback surface (TTS_STARTED, TTS_COMPLETED, TTS_ERROR, TTS_STOPPED).
type PlaybackEvent struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorEvent reports a playback failure or non-fatal notice to UI
// surfaces, with a user-presentable rendering alongside the raw error.
type ErrorEvent struct {
	Text   string          `json:"text,omitempty"`
	Error  string          `json:"error"`
	Notice friendly.Notice `json:"notice"`
}

// ValidationResult answers SETTINGS_VALIDATE.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}

// DetectionReport is posted by an in-page probe on a listening-state edge.
type DetectionReport struct {
	IsActive bool   `json:"isActive"`
	Site     string `json:"site"`
	URL      string `json:"url"`
	TabID    int    `json:"tabId"`
}

// DetectionQuery asks the active page's probe for its current state.
type DetectionQuery struct {
	TabID int `json:"tabId"`
}

// RecognitionState is broadcast to UI surfaces when a page's listening
// state changes, and returned for directed detection queries.
type RecognitionState struct {
	IsActive bool   `json:"isActive"`
	Site     string `json:"site"`
	TabID    int    `json:"tabId"`
	Error    string `json:"error,omitempty"`
}

// PermissionState answers the PERMISSIONS_* messages.
type PermissionState struct {
	Granted bool `json:"granted"`
}

// TTSRequest is the hand-off record persisted under the local-store
// currentTTSRequest key.
type TTSRequest struct {
	Text      string      `json:"text"`
	Options   tts.Options `json:"options"`
	Timestamp int64       `json:"timestamp"`
}

// SettingsPayload carries a full or sparse settings candidate.
type SettingsPayload = settings.Partial
