package health

import "sort"

// Aggregate combines sub-statuses under name. Any unhealthy sub-status makes
// the aggregate unhealthy; otherwise any degraded one makes it degraded.
// Sub-statuses are sorted by name.
func Aggregate(name string, subs []Status) Status {
	if len(subs) == 0 {
		return newStatus(name, StateHealthy, "No lookups registered")
	}

	worst := StateHealthy
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			worst = StateUnhealthy
		case sub.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
		}
	}

	var status Status
	switch worst {
	case StateUnhealthy:
		status = newStatus(name, worst, "One or more lookups are unhealthy")
	case StateDegraded:
		status = newStatus(name, worst, "One or more lookups are degraded")
	default:
		status = newStatus(name, worst, "All lookups are healthy")
	}

	status.SubStatuses = make([]Status, len(subs))
	copy(status.SubStatuses, subs)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Name < status.SubStatuses[j].Name
	})
	return status
}
