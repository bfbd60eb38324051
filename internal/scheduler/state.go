package scheduler

// State 调度器当前所处阶段
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateAnalyzing
	StateCleaning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSampling:
		return "SAMPLING"
	case StateAnalyzing:
		return "ANALYZING"
	case StateCleaning:
		return "CLEANING"
	default:
		return "UNKNOWN"
	}
}
