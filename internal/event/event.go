package event

// Type identifies the kind of a wire event.
type Type string

const (
	TypeStart    Type = "start"
	TypeJoin     Type = "join"
	TypeLeave    Type = "leave"
	TypeConfig   Type = "config"
	TypeCommand  Type = "command"
	TypeTurn     Type = "turn"
	TypeDoWidget Type = "do-widget"
	TypeEnd      Type = "end"
)

// EndReason classifies why a session ended.
type EndReason string

const (
	ReasonUnknown        EndReason = "unknown"
	ReasonStartDelay     EndReason = "start-delay"
	ReasonActionDelay    EndReason = "action-delay"
	ReasonActionMismatch EndReason = "action-mismatch"
)

// BoardMode controls how widgets are laid out across devices.
type BoardMode string

const (
	BoardMirror BoardMode = "mirror"
	BoardExtend BoardMode = "extend"
)

// TurnMode selects who commands are addressed to.
type TurnMode string

const (
	TurnCollaborative TurnMode = "collaborative"
	TurnCompetitive   TurnMode = "competitive"
)

// WidgetType tags the interaction style of a widget. Wait widgets
// complete by time passage alone and never fail a session.
type WidgetType string

const (
	WidgetButton WidgetType = "button"
	WidgetSwitch WidgetType = "switch"
	WidgetSlider WidgetType = "slider"
	WidgetWait   WidgetType = "wait"
)

// Widget is the snapshot of one interactive element the core cares
// about: a stable id, the command verb announced to players, a type
// tag, and the extra milliseconds the widget adds to its delay window.
type Widget struct {
	ID       string     `json:"widgetId"`
	Command  string     `json:"command"`
	Type     WidgetType `json:"widgetType"`
	Duration int64      `json:"duration,omitempty"`
}

// ServerDeviceID is the sentinel device identity stamped on events the
// server originates itself, so clients can tell them from their own
// changes echoed back.
const ServerDeviceID = "server"

// Event is the tagged record pushed over each device's stream. Every
// event carries the type/game/device triple; the remaining fields are
// variant-specific and omitted when unused.
type Event struct {
	Type     Type   `json:"gameEventType"`
	GameID   string `json:"gameId"`
	DeviceID string `json:"deviceId"`

	// Join / Leave
	DeviceAlias string   `json:"deviceAlias,omitempty"`
	DeviceCount int      `json:"deviceCount,omitempty"`
	DeviceIDs   []string `json:"deviceIds,omitempty"`

	// Config (diff or full snapshot)
	BoardMode     BoardMode         `json:"boardDisplayMode,omitempty"`
	TurnMode      TurnMode          `json:"gameTurnMode,omitempty"`
	PlayerCount   int               `json:"playerCount,omitempty"`
	Difficulty    float64           `json:"difficulty,omitempty"`
	Widgets       []Widget          `json:"widgets,omitempty"`
	DeviceAliases map[string]string `json:"deviceAliases,omitempty"`
	Preview       bool              `json:"preview,omitempty"`

	// Command / DoWidget
	WidgetID         string `json:"widgetId,omitempty"`
	Command          string `json:"command,omitempty"`
	CommandDelay     int64  `json:"commandDelay,omitempty"`
	CommandCount     int    `json:"commandCount,omitempty"`
	TurnCommandCount int    `json:"turnCommandCount,omitempty"`

	// Turn
	TurnPlayerIdx         *int `json:"turnPlayerIdx,omitempty"`
	TurnCommandCountTotal int  `json:"turnCommandCountTotal,omitempty"`

	// End
	EndReason EndReason `json:"endReason,omitempty"`
}
