package notify

import "time"

// Source identifies which producer delivered a notification.
type Source int

const (
	// SourcePush is a system-level push delivered while foregrounded, or the
	// tap-response payload of a background push.
	SourcePush Source = iota
	// SourceChannel is an application event pushed over the realtime channel.
	SourceChannel
	// SourcePolled is an item from the periodic unseen-notification fetch.
	SourcePolled
)

func (s Source) String() string {
	switch s {
	case SourcePush:
		return "push"
	case SourceChannel:
		return "channel"
	case SourcePolled:
		return "polled"
	default:
		return "unknown"
	}
}

// Data is the routable payload of a notification. RelatedID is empty when the
// server sent no related entity.
type Data struct {
	Type      string `json:"type"`
	RelatedID string `json:"related_id,omitempty"`
}

// Notification is an ephemeral display event. It deliberately carries no
// identity: the hub never deduplicates, so the same logical server-side event
// arriving through two producers is displayed twice.
type Notification struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Data   Data   `json:"data"`
	Source Source `json:"-"`
}

// Role is the viewer's role as reported by the identity collaborator.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
	RoleVerifier    Role = "verifier"
)

// Viewer is the currently authenticated viewer.
type Viewer struct {
	ID   string
	Role Role
}

// CacheKey names an external cache that must be invalidated after a delivery.
type CacheKey string

const (
	CacheNotificationsList CacheKey = "notifications_list"
	CacheViewerStats       CacheKey = "viewer_stats"
)

// DeliveredEvent is the bus payload for eventbus.TopicNotifyDelivered.
type DeliveredEvent struct {
	Title  string    `json:"title"`
	Type   string    `json:"type"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// RoutedEvent is the bus payload for eventbus.TopicNotifyRouted and
// eventbus.TopicNotifyRouteDropped.
type RoutedEvent struct {
	Type      string    `json:"type"`
	RelatedID string    `json:"related_id,omitempty"`
	Screen    string    `json:"screen,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
