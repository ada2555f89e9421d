package app

import (
	"dataninja/internal/missions"
	"dataninja/internal/sandbox"
)

// demoChartPNG is a 1x1 placeholder standing in for a drawn chart.
const demoChartPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// scriptDemos teaches a mock interpreter each mission's worked solution so
// the mock mode can be played end to end. Missions without a demo stay
// unscripted.
func scriptDemos(k *sandbox.MockKernel, pack missions.Pack) int {
	n := 0
	for _, m := range pack.Missions {
		if m.Demo == nil {
			continue
		}
		values := make(map[string]any, len(m.Checks))
		for _, c := range m.Checks {
			values[c.Target()] = c.DemoValue
		}
		res := sandbox.Result{Display: m.Demo.Display, TickLabels: m.Demo.TickLabels}
		if len(res.TickLabels) > 0 {
			res.ImagePNG = demoChartPNG
		}
		k.OnRunSets(m.Demo.Code, res, values)
		n++
	}
	return n
}

// Draft is the code the editor opens with for a mission: the worked
// solution under the mock interpreter, the starter code otherwise.
func (a *App) Draft(missionID string) string {
	m, ok := a.pack.Mission(missionID)
	if !ok {
		return ""
	}
	a.mu.Lock()
	mock := a.kernel != nil && a.kernel.IsMock()
	a.mu.Unlock()
	if mock && m.Demo != nil {
		return m.Demo.Code
	}
	return m.StarterCode
}
