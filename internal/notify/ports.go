package notify

// Ports consumed (not owned) by the notification core. The host application
// provides implementations; every method is expected to be cheap and safe to
// call from any goroutine.

// CacheInvalidator signals that an external cache is stale. Implementations
// must be idempotent and safe to call redundantly.
type CacheInvalidator interface {
	Invalidate(key CacheKey)
}

// Haptics plays physical feedback cues. Best-effort: implementations never
// report failure to the caller.
type Haptics interface {
	Success()
}

// Navigator performs in-app navigation. Navigate must be a no-op (not a
// queued or delayed action) while IsReady reports false.
type Navigator interface {
	IsReady() bool
	Navigate(screen string, params map[string]string)
}

// Identity exposes the currently authenticated viewer, or ok=false when
// signed out.
type Identity interface {
	Viewer() (Viewer, bool)
}

// Screen names passed to Navigator.Navigate.
const (
	ScreenEventDetail     = "event_detail"
	ScreenTicketView      = "ticket_view"
	ScreenParticipantHome = "participant_home"
)

// Params used with ScreenParticipantHome to address the nested
// discover-tab → event-detail destination in a single Navigate call.
const (
	ParamEventID        = "event_id"
	ParamRegistrationID = "registration_id"
	ParamTab            = "tab"
	ParamScreen         = "screen"

	TabDiscover = "discover"
)
