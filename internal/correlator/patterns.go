package correlator

import (
	"strconv"
	"strings"
	"time"

	"edr-agent/internal/schema"
)

const (
	dropperWindow    = 30 * time.Second
	persistenceWindow = 60 * time.Second
	lateralWindow    = 10 * time.Second
)

// detection is what a pattern detector reports on a hit; the Correlator
// turns it into an IncidentStateChange event.
type detection struct {
	patternName string
	description string
	bonusScore  int
}

// detectDropper looks for FILE_CREATE in a suspicious location followed
// by PROCESS_CREATE followed by NETWORK_CONNECT, each step within
// dropperWindow of the first. Ported from
// BehaviorCorrelator.cpp's DetectDropperPattern.
func detectDropper(events []schema.Event) (detection, bool) {
	if len(events) < 3 {
		return detection{}, false
	}

	for i, e1 := range events {
		if e1.Kind != schema.KindFileCreate {
			continue
		}
		path := strings.ToLower(e1.Meta("file_path"))
		if path == "" {
			continue
		}
		if !strings.Contains(path, `\temp\`) && !strings.Contains(path, `\appdata\`) {
			continue
		}

		deadline := e1.Timestamp().Add(dropperWindow)

		for j := i + 1; j < len(events); j++ {
			e2 := events[j]
			if e2.Timestamp().After(deadline) {
				break
			}
			if e2.Kind != schema.KindProcessCreate {
				continue
			}

			for k := j + 1; k < len(events); k++ {
				e3 := events[k]
				if e3.Timestamp().After(deadline) {
					break
				}
				if e3.Kind == schema.KindNetworkConnect {
					return detection{
						patternName: "Dropper",
						description: "File creation in suspicious location followed by process spawn and network connection",
						bonusScore:  20,
					}, true
				}
			}
		}
	}

	return detection{}, false
}

// detectPersistence looks for a REGISTRY_WRITE to a Run/RunOnce/Services
// key followed by PROCESS_CREATE within persistenceWindow. Ported from
// DetectPersistencePattern.
func detectPersistence(events []schema.Event) (detection, bool) {
	if len(events) < 2 {
		return detection{}, false
	}

	for i, e1 := range events {
		if e1.Kind != schema.KindRegistryWrite {
			continue
		}
		keyPath := strings.ToLower(e1.Meta("key_path"))
		if keyPath == "" {
			continue
		}
		if !strings.Contains(keyPath, `\run`) && !strings.Contains(keyPath, `\services`) {
			continue
		}

		deadline := e1.Timestamp().Add(persistenceWindow)

		for j := i + 1; j < len(events); j++ {
			e2 := events[j]
			if e2.Timestamp().After(deadline) {
				break
			}
			if e2.Kind == schema.KindProcessCreate {
				return detection{
					patternName: "Persistence",
					description: "Registry persistence key modification followed by process creation",
					bonusScore:  20,
				}, true
			}
		}
	}

	return detection{}, false
}

// detectLateralMovement looks for 3+ NETWORK_CONNECT events to distinct
// remote addresses on an SMB/RPC port (445/135/139) within
// lateralWindow. Ported from DetectLateralMovementPattern.
func detectLateralMovement(events []schema.Event) (detection, bool) {
	type conn struct {
		at   time.Time
		addr string
	}

	var smb []conn
	for _, e := range events {
		if e.Kind != schema.KindNetworkConnect {
			continue
		}
		addr := e.Meta("remote_address")
		portStr := e.Meta("remote_port")
		if addr == "" || portStr == "" {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		if port == 445 || port == 135 || port == 139 {
			smb = append(smb, conn{at: e.Timestamp(), addr: addr})
		}
	}

	if len(smb) < 3 {
		return detection{}, false
	}

	for i := 0; i <= len(smb)-3; i++ {
		deadline := smb[i].at.Add(lateralWindow)
		unique := map[string]struct{}{}

		for j := i; j < len(smb); j++ {
			if smb[j].at.After(deadline) {
				break
			}
			unique[smb[j].addr] = struct{}{}
			if len(unique) >= 3 {
				return detection{
					patternName: "Lateral_Movement",
					description: "Multiple SMB/RPC connections to different hosts in short time window",
					bonusScore:  25,
				}, true
			}
		}
	}

	return detection{}, false
}
