package manager

import (
	"time"

	"sketchd/pkg/types"
)

// Status assembles the GET /status snapshot.
func (m *Manager) Status() types.StatusResponse {
	p := m.hub.Current()
	m.mu.RLock()
	path := m.modelPath
	m.mu.RUnlock()
	return types.StatusResponse{
		Init: types.ProgressUpdate{
			State:       string(p.State),
			Message:     p.Message,
			Progress:    p.Progress,
			Error:       p.Err,
			CurrentPath: p.CurrentPath,
			FailedStep:  string(p.FailedStep),
		},
		Ready:          m.Ready(),
		ModelPath:      path,
		Generations:    m.generations.Load(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}
