package relay

// Outcome is the terminal state of one submission.
type Outcome int

const (
	Delivered Outcome = iota
	ValidationFailed
	BotCheckFailed
	DispatchFailed
	RouteNotFound
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case ValidationFailed:
		return "validation_failed"
	case BotCheckFailed:
		return "bot_check_failed"
	case DispatchFailed:
		return "dispatch_failed"
	case RouteNotFound:
		return "route_not_found"
	default:
		return "unknown"
	}
}
