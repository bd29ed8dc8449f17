package stage

// Health is the result of an executor's readiness probe.
type Health struct {
	Stage  Name
	Ready  bool
	Detail string
}

// Healthy reports stage ready.
func Healthy(name Name) Health {
	return Health{Stage: name, Ready: true}
}

// Unhealthy reports why stage cannot run.
func Unhealthy(name Name, detail string) Health {
	return Health{Stage: name, Detail: detail}
}

// Summary is the one-line form shown by the health command.
func (h Health) Summary() string {
	if h.Detail != "" {
		return h.Detail
	}
	if h.Ready {
		return "ready"
	}
	return "not ready"
}
