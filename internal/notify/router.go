package notify

import (
	"strings"
	"time"

	"gatepass/internal/eventbus"
	"gatepass/pkg/logx"
)

// Destination is a single navigation call: screen name plus params. Nested
// destinations (participant home → discover tab → event detail) are addressed
// through params so the call stays singular.
type Destination struct {
	Screen string
	Params map[string]string
}

// Resolve maps a tapped notification to a destination given the viewer role.
// It is a pure decision function; ok=false means the tap is a no-op.
//
// First match wins:
//   - new_event/broadcast with a related id: admins land on event detail,
//     everyone else on the nested participant discover path;
//   - registration_* with a related id: ticket view, any role;
//   - anything else, or a missing related id, falls through.
func Resolve(d Data, role Role) (Destination, bool) {
	switch {
	case d.Type == "new_event" || d.Type == "broadcast":
		if d.RelatedID == "" {
			return Destination{}, false
		}
		if role == RoleAdmin {
			return Destination{
				Screen: ScreenEventDetail,
				Params: map[string]string{ParamEventID: d.RelatedID},
			}, true
		}
		return Destination{
			Screen: ScreenParticipantHome,
			Params: map[string]string{
				ParamTab:     TabDiscover,
				ParamScreen:  ScreenEventDetail,
				ParamEventID: d.RelatedID,
			},
		}, true

	case strings.HasPrefix(d.Type, "registration_"):
		if d.RelatedID == "" {
			return Destination{}, false
		}
		return Destination{
			Screen: ScreenTicketView,
			Params: map[string]string{ParamRegistrationID: d.RelatedID},
		}, true

	default:
		return Destination{}, false
	}
}

// Router translates a tapped notification into at most one navigation call.
//
// Unroutable taps, taps while signed out, and taps before the navigator is
// ready are all dropped silently: nothing visibly happens, nothing is queued,
// and no error surfaces.
type Router struct {
	nav Navigator
	id  Identity
	hub *Hub
	log logx.Logger
	bus eventbus.Bus
}

func NewRouter(nav Navigator, id Identity, hub *Hub, log logx.Logger, bus eventbus.Bus) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{nav: nav, id: id, hub: hub, log: log, bus: bus}
}

// Route handles a tap on the notification carrying d.
func (r *Router) Route(d Data) {
	// Clearing the slot does not depend on where (or whether) we navigate.
	if r.hub != nil {
		r.hub.Dismiss()
	}

	var viewer Viewer
	if r.id != nil {
		v, ok := r.id.Viewer()
		if !ok {
			r.drop(d, "unauthenticated")
			return
		}
		viewer = v
	} else {
		r.drop(d, "unauthenticated")
		return
	}

	dest, ok := Resolve(d, viewer.Role)
	if !ok {
		r.drop(d, "unroutable")
		return
	}

	if r.nav == nil || !r.nav.IsReady() {
		r.drop(d, "navigator_not_ready")
		return
	}

	r.nav.Navigate(dest.Screen, dest.Params)
	r.log.Debug("notification routed",
		logx.String("type", d.Type),
		logx.String("screen", dest.Screen))
	if r.bus != nil {
		now := time.Now()
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TopicNotifyRouted,
			Time: now,
			Data: RoutedEvent{Type: d.Type, RelatedID: d.RelatedID, Screen: dest.Screen, At: now},
		})
	}
}

func (r *Router) drop(d Data, reason string) {
	r.log.Debug("notification tap dropped",
		logx.String("type", d.Type),
		logx.String("reason", reason))
	if r.bus != nil {
		now := time.Now()
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TopicNotifyRouteDropped,
			Time: now,
			Data: RoutedEvent{Type: d.Type, RelatedID: d.RelatedID, Reason: reason, At: now},
		})
	}
}
