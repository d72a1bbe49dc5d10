package dispatch

// CommandKind is the closed set of user commands the dispatcher accepts.
// Unknown command names never reach a handler.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandReadAloud
	CommandReadAloud1x
	CommandReadAloud15x
	CommandReadAloud2x
	CommandDownload
	CommandStopReading
)

// ParseCommand maps a command name from the bus subject to its kind.
func ParseCommand(name string) (CommandKind, bool) {
	switch name {
	case "read-aloud":
		return CommandReadAloud, true
	case "read-aloud-1x":
		return CommandReadAloud1x, true
	case "read-aloud-1.5x":
		return CommandReadAloud15x, true
	case "read-aloud-2x":
		return CommandReadAloud2x, true
	case "download":
		return CommandDownload, true
	case "stop-reading":
		return CommandStopReading, true
	default:
		return CommandUnknown, false
	}
}

func (k CommandKind) String() string {
	switch k {
	case CommandReadAloud:
		return "read-aloud"
	case CommandReadAloud1x:
		return "read-aloud-1x"
	case CommandReadAloud15x:
		return "read-aloud-1.5x"
	case CommandReadAloud2x:
		return "read-aloud-2x"
	case CommandDownload:
		return "download"
	case CommandStopReading:
		return "stop-reading"
	default:
		return "unknown"
	}
}

// speedOverride returns the fixed speed a variant carries. The override wins
// over the stored speed for that invocation only.
func (k CommandKind) speedOverride() (float64, bool) {
	switch k {
	case CommandReadAloud1x:
		return 1, true
	case CommandReadAloud15x:
		return 1.5, true
	case CommandReadAloud2x:
		return 2, true
	default:
		return 0, false
	}
}
