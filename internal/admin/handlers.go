package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/dockd/internal/action"
	"github.com/watzon/dockd/internal/console"
	"github.com/watzon/dockd/internal/model"
	"github.com/watzon/dockd/internal/scheduler"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, "CONFLICT", message)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Station       StationStatus          `json:"station"`
	Instrument    *model.Instrument      `json:"instrument,omitempty"`
	DockedAt      *time.Time             `json:"docked_at,omitempty"`
	Display       console.Status         `json:"display"`
	Charging      model.ChargingState    `json:"charging"`
	BatteryCode   string                 `json:"battery_code,omitempty"`
	Pending       string                 `json:"pending,omitempty"`
	ForcedQueue   []string               `json:"forced_queue"`
	Requirements  scheduler.Requirements `json:"requirements"`
	NextDue       map[string]time.Time   `json:"next_due,omitempty"`
	Outbox        map[string]int         `json:"outbox,omitempty"`
	Synchronized  bool                   `json:"synchronized"`
	ServerOnline  bool                   `json:"server_connected"`
	ReplacedEquip bool                   `json:"replaced_equipment"`
}

type StationStatus struct {
	SerialNumber    string `json:"serial_number"`
	InstrumentType  string `json:"instrument_type"`
	SoftwareVersion string `json:"software_version,omitempty"`
	Activated       bool   `json:"activated"`
	ConfigError     string `json:"config_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.State.Snapshot()

	resp := StatusResponse{
		Station: StationStatus{
			SerialNumber:    snap.Station.SerialNumber,
			InstrumentType:  string(snap.Station.InstrumentType),
			SoftwareVersion: snap.Station.SoftwareVersion,
			Activated:       snap.Station.Activated,
			ConfigError:     snap.Station.ConfigError,
		},
		Instrument:    snap.Instrument,
		Display:       s.deps.Display.Status(),
		Charging:      s.deps.Charger.State(),
		BatteryCode:   s.deps.Charger.BatteryCode(),
		ForcedQueue:   []string{},
		Requirements:  s.deps.Scheduler.Requirements(),
		Synchronized:  snap.Synchronized,
		ServerOnline:  snap.ServerConnected,
		ReplacedEquip: s.deps.State.Replaced(),
	}
	if snap.Docked() {
		resp.DockedAt = &snap.DockedTime
	}
	if p := s.deps.Executor.Pending(); p != nil {
		resp.Pending = p.String()
	}
	for _, e := range s.deps.Scheduler.Forced().Entries() {
		resp.ForcedQueue = append(resp.ForcedQueue, e.Schedule.EventCode.Code)
	}
	for _, code := range model.AllEventCodes() {
		if t, ok := s.deps.Scheduler.NextDue(code.Code); ok {
			if resp.NextDue == nil {
				resp.NextDue = make(map[string]time.Time)
			}
			resp.NextDue[code.Code] = t
		}
	}
	if s.deps.Outbox != nil {
		counts, err := s.deps.Outbox.Counts(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to count outbox records")
		}
		resp.Outbox = counts
	}

	JSON(w, http.StatusOK, resp)
}

// handleForce queues a forced event. priority=high stacks it ahead of waiting requests.
func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	codeParam := r.URL.Query().Get("code")
	code, ok := model.LookupEventCode(codeParam)
	if !ok {
		BadRequest(w, "unknown event code: "+codeParam)
		return
	}
	high := r.URL.Query().Get("priority") == "high"

	s.deps.Scheduler.ForceEvent(code, high)
	JSON(w, http.StatusAccepted, map[string]any{
		"code":          code.Code,
		"high_priority": high,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, _ *http.Request) {
	s.deps.Executor.HeartBeat()
	JSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	n := s.deps.Scheduler.ClearQueuedActions()
	JSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// handleExecute makes an action pending immediately, bypassing the scheduler.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	kindParam := r.URL.Query().Get("kind")
	kind, ok := action.ParseKind(kindParam)
	if !ok || kind == action.KindNothing {
		BadRequest(w, "unknown action kind: "+kindParam)
		return
	}

	var a *action.Action
	if code, ok := codeForKind(kind); ok {
		inst := s.deps.State.Snapshot().Instrument
		if code.IsInstrument() && inst == nil {
			Conflict(w, "no instrument docked")
			return
		}
		a = action.ForCode(code, action.TriggerForced, nil, inst)
	} else {
		a = action.New(kind, action.TriggerForced)
	}

	if !s.deps.Executor.ExecuteNow(a) {
		Conflict(w, "a protected action is already pending")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"id": a.ID, "action": a.String()})
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	active, err := strconv.ParseBool(r.URL.Query().Get("active"))
	if err != nil {
		BadRequest(w, "active must be true or false")
		return
	}
	if !s.deps.Display.SetMenuActive(active) {
		Conflict(w, "menu is locked while an operation runs")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"menu_active": active})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outbox == nil {
		Error(w, http.StatusNotFound, "NOT_FOUND", "reporting outbox not configured")
		return
	}
	n, err := s.deps.Outbox.Flush(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, "UPLOAD_FAILED", err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]int{"delivered": n})
}

// handleSync records a configuration sync pushed by the server. A push also
// proves the server is reachable. synchronized=false marks a sync as pending.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	synced := true
	if v := r.URL.Query().Get("synchronized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "synchronized must be true or false")
			return
		}
		synced = b
	}

	s.deps.State.SetSynchronized(synced)
	s.deps.State.SetServerConnected(true)
	log.Info().Bool("synchronized", synced).Msg("Server sync received")

	snap := s.deps.State.Snapshot()
	JSON(w, http.StatusOK, map[string]bool{
		"synchronized":     snap.Synchronized,
		"server_connected": snap.ServerConnected,
	})
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	connected, err := strconv.ParseBool(r.URL.Query().Get("connected"))
	if err != nil {
		BadRequest(w, "connected must be true or false")
		return
	}
	s.deps.State.SetServerConnected(connected)
	JSON(w, http.StatusOK, map[string]bool{"server_connected": connected})
}

func codeForKind(kind action.Kind) (model.EventCode, bool) {
	for _, code := range model.AllEventCodes() {
		if k, ok := action.KindForCode(code); ok && k == kind {
			return code, true
		}
	}
	return model.EventCode{}, false
}
