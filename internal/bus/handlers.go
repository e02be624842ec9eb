package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhkwon/voxbridge/internal/settings"
	"github.com/dhkwon/voxbridge/internal/tts"
	"github.com/dhkwon/voxbridge/pkg/storage"
)

// ProbeDirectory answers directed listening-state queries from UI
// surfaces.
type ProbeDirectory interface {
	// Query evaluates the probe attached to the given tab. A zero tabID
	// means the currently focused tab.
	Query(ctx context.Context, tabID int) (RecognitionState, error)
}

// PermissionGate reports and requests host permissions.
type PermissionGate interface {
	Status(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

// CoreDeps are the collaborators the core handler set is wired to.
type CoreDeps struct {
	Settings    *settings.Store
	Local       storage.Store
	Probes      ProbeDirectory
	Permissions PermissionGate
}

// RegisterCoreHandlers installs the full handler catalogue on b.
func RegisterCoreHandlers(b *Bus, deps CoreDeps) {
	h := &coreHandlers{bus: b, deps: deps}

	b.Handle(TypePlay, h.play)
	b.Handle(TypeStop, h.control(TypeStopExecute))
	b.Handle(TypePause, h.control(TypePauseExecute))
	b.Handle(TypeResume, h.control(TypeResumeExecute))

	b.Handle(TypeStarted, h.relay)
	b.Handle(TypeProgress, h.relay)
	b.Handle(TypeCompleted, h.relay)
	b.Handle(TypeTTSError, h.relay)
	b.Handle(TypeStopped, h.relay)
	b.Handle(TypeError, h.relay)

	b.Handle(TypeSettingsGet, h.settingsGet)
	b.Handle(TypeSettingsUpdate, h.settingsUpdate)
	b.Handle(TypeSettingsPartialUpdate, h.settingsPartialUpdate)
	b.Handle(TypeSettingsReset, h.settingsReset)
	b.Handle(TypeSettingsValidate, h.settingsValidate)

	b.Handle(TypeVoiceDetection, h.voiceDetection)

	b.Handle(TypePermissionsCheck, h.permissionsStatus)
	b.Handle(TypePermissionsStatus, h.permissionsStatus)
	b.Handle(TypePermissionsRequest, h.permissionsRequest)
}

type coreHandlers struct {
	bus  *Bus
	deps CoreDeps
}

// play merges the user's saved options under the request overrides,
// persists the hand-off record, and broadcasts TTS_EXECUTE to the
// playback surface. The caller is acknowledged without waiting for
// playback to start.
func (h *coreHandlers) play(ctx context.Context, m Message) (any, error) {
	p, err := payloadAs[PlayPayload](m)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, errors.New("No text provided")
	}

	s, err := h.deps.Settings.Load(ctx)
	if err != nil {
		// Load degraded to defaults; playback proceeds on those.
		slog.Warn("settings unavailable for play request, using defaults", "error", err)
	}
	opts := tts.Effective(s.TTS, p.Options)

	h.persistHandoff(ctx, text, opts, m.Timestamp)
	h.bus.Broadcast(NewMessage(TypeExecute, ExecutePayload{Text: text, Options: opts}, "bus"))

	return PlayAck{Status: "ready", Text: text, Options: opts}, nil
}

// persistHandoff records the request in local storage so a restarted
// playback surface can recover it. Failures are logged, never fatal.
func (h *coreHandlers) persistHandoff(ctx context.Context, text string, opts tts.Options, ts int64) {
	if h.deps.Local == nil {
		return
	}
	if data, err := json.Marshal(text); err == nil {
		if err := h.deps.Local.Set(ctx, storage.KeyLastText, data); err != nil {
			slog.Warn("persist last text failed", "error", err)
		}
	}
	req := TTSRequest{Text: text, Options: opts, Timestamp: ts}
	if data, err := json.Marshal(req); err == nil {
		if err := h.deps.Local.Set(ctx, storage.KeyTTSRequest, data); err != nil {
			slog.Warn("persist tts request failed", "error", err)
		}
	}
}

// control acknowledges a transport-control request immediately and relays
// the matching execute message to the playback surface.
func (h *coreHandlers) control(execute Type) Handler {
	return func(ctx context.Context, m Message) (any, error) {
		h.bus.Broadcast(NewMessage(execute, nil, "bus"))
		return "ok", nil
	}
}

// relay fans a playback lifecycle event out to the UI surfaces.
func (h *coreHandlers) relay(ctx context.Context, m Message) (any, error) {
	h.bus.Broadcast(m)
	return "ok", nil
}

func (h *coreHandlers) settingsGet(ctx context.Context, m Message) (any, error) {
	s, err := h.deps.Settings.Load(ctx)
	if err != nil {
		// Defaults are still usable; surface them rather than failing the
		// UI read.
		slog.Warn("settings load degraded to defaults", "error", err)
	}
	return s, nil
}

func (h *coreHandlers) settingsUpdate(ctx context.Context, m Message) (any, error) {
	p, err := payloadAs[settings.Partial](m)
	if err != nil {
		return nil, err
	}
	saved, err := h.deps.Settings.Save(ctx, p)
	if err != nil {
		return nil, err
	}
	h.bus.Broadcast(NewMessage(TypeSettingsUpdate, saved, "bus"))
	return saved, nil
}

func (h *coreHandlers) settingsPartialUpdate(ctx context.Context, m Message) (any, error) {
	p, err := payloadAs[settings.Partial](m)
	if err != nil {
		return nil, err
	}
	saved, err := h.deps.Settings.UpdatePartial(ctx, p)
	if err != nil {
		return nil, err
	}
	h.bus.Broadcast(NewMessage(TypeSettingsUpdate, saved, "bus"))
	return saved, nil
}

func (h *coreHandlers) settingsReset(ctx context.Context, m Message) (any, error) {
	saved, err := h.deps.Settings.Reset(ctx)
	if err != nil {
		return nil, err
	}
	h.bus.Broadcast(NewMessage(TypeSettingsUpdate, saved, "bus"))
	return saved, nil
}

// settingsValidate answers with the violation list without persisting
// anything. Validation failures are data here, not errors.
func (h *coreHandlers) settingsValidate(ctx context.Context, m Message) (any, error) {
	p, err := payloadAs[settings.Partial](m)
	if err != nil {
		return nil, err
	}
	errs := settings.Validate(p)
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}, nil
}

// voiceDetection serves both directions of the detection flow: probes
// report edges, UI surfaces query current state.
func (h *coreHandlers) voiceDetection(ctx context.Context, m Message) (any, error) {
	switch p := m.Payload.(type) {
	case DetectionReport:
		return h.reportDetection(p), nil
	case *DetectionReport:
		return h.reportDetection(*p), nil
	case DetectionQuery:
		return h.queryProbe(ctx, p.TabID)
	case *DetectionQuery:
		return h.queryProbe(ctx, p.TabID)
	case json.RawMessage:
		// Wire bodies carry isActive only for reports; queries are bare
		// tab references.
		var disc struct {
			IsActive *bool `json:"isActive"`
		}
		if err := json.Unmarshal(p, &disc); err != nil {
			return nil, fmt.Errorf("%w: payload for %s: %v", ErrInvalidMessage, m.Type, err)
		}
		if disc.IsActive != nil {
			var rep DetectionReport
			if err := json.Unmarshal(p, &rep); err != nil {
				return nil, fmt.Errorf("%w: payload for %s: %v", ErrInvalidMessage, m.Type, err)
			}
			return h.reportDetection(rep), nil
		}
		var q DetectionQuery
		if err := json.Unmarshal(p, &q); err != nil {
			return nil, fmt.Errorf("%w: payload for %s: %v", ErrInvalidMessage, m.Type, err)
		}
		return h.queryProbe(ctx, q.TabID)
	default:
		return nil, fmt.Errorf("unexpected payload %T for %s", m.Payload, m.Type)
	}
}

// reportDetection fans a probe edge out to the UI surfaces.
func (h *coreHandlers) reportDetection(p DetectionReport) any {
	state := RecognitionState{IsActive: p.IsActive, Site: p.Site, TabID: p.TabID}
	h.bus.Broadcast(NewMessage(TypeVoiceRecognitionState, state, "bus"))
	return "ok"
}

func (h *coreHandlers) queryProbe(ctx context.Context, tabID int) (any, error) {
	if h.deps.Probes == nil {
		return RecognitionState{TabID: tabID, Error: "no probe available"}, nil
	}
	state, err := h.deps.Probes.Query(ctx, tabID)
	if err != nil {
		// An unreachable page answers inactive rather than failing the UI.
		return RecognitionState{TabID: tabID, Error: err.Error()}, nil
	}
	return state, nil
}

func (h *coreHandlers) permissionsStatus(ctx context.Context, m Message) (any, error) {
	if h.deps.Permissions == nil {
		return PermissionState{Granted: true}, nil
	}
	granted, err := h.deps.Permissions.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	return PermissionState{Granted: granted}, nil
}

func (h *coreHandlers) permissionsRequest(ctx context.Context, m Message) (any, error) {
	if h.deps.Permissions == nil {
		return PermissionState{Granted: true}, nil
	}
	granted, err := h.deps.Permissions.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission request failed: %w", err)
	}
	return PermissionState{Granted: granted}, nil
}

// payloadAs coerces a message payload to the expected concrete type,
// accepting either the type itself, a pointer to it, or a raw JSON body.
func payloadAs[T any](m Message) (T, error) {
	var zero T
	switch v := m.Payload.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("%w: nil payload for %s", ErrInvalidMessage, m.Type)
		}
		return *v, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return zero, fmt.Errorf("%w: payload for %s: %v", ErrInvalidMessage, m.Type, err)
		}
		return out, nil
	case nil:
		return zero, fmt.Errorf("%w: missing payload for %s", ErrInvalidMessage, m.Type)
	default:
		return zero, fmt.Errorf("%w: unexpected payload %T for %s", ErrInvalidMessage, m.Payload, m.Type)
	}
}
