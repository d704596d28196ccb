package scenes

import "time"

// TickMsg is sent on each scene's refresh tick. Scene is the tick's
// origin so the parent model can forward it only to the active scene,
// and so a scene can ignore a tick it didn't schedule.
type TickMsg struct {
	Scene string
	Time  time.Time
}
