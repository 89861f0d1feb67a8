package scan

// HubSubscribe lets the HTTP layer stream one scan's progress (SSE).
func (r *Runner) HubSubscribe(scanID string) chan Progress {
	if r.hub == nil {
		return nil
	}
	return r.hub.Subscribe(scanID)
}

// HubUnsubscribe detaches a stream client.
func (r *Runner) HubUnsubscribe(ch chan Progress) {
	if r.hub == nil || ch == nil {
		return
	}
	r.hub.Unsubscribe(ch)
}
