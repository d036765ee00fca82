package adjust

import "fmt"

// Stage identifies a pipeline pass driven by one field group of State.
type Stage int

const (
	StageGeometry Stage = iota
	StageTonal
	StageColor
	StageChannel
	StageClarity
	StageDetail
	StageEffects
	StageOutput

	// StageNone means nothing changed.
	StageNone Stage = -1
)

// NumStages is the number of real stages.
const NumStages = int(StageOutput) + 1

var stageNames = [...]string{"geometry", "tonal", "color", "channel", "clarity", "detail", "effects", "output"}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	if s == StageNone {
		return "none"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Diff returns the earliest stage whose field group differs between prev and
// next, or StageNone when they are equal.
func Diff(prev, next State) Stage {
	switch {
	case prev.Geometry != next.Geometry:
		return StageGeometry
	case prev.Tone != next.Tone:
		return StageTonal
	case prev.Color != next.Color:
		return StageColor
	case prev.Channels != next.Channels:
		return StageChannel
	case prev.Clarity != next.Clarity:
		return StageClarity
	case prev.Detail != next.Detail:
		return StageDetail
	case prev.Effects != next.Effects:
		return StageEffects
	case prev.Output != next.Output:
		return StageOutput
	}
	return StageNone
}

// Changed returns every stage whose field group differs, in pipeline order.
func Changed(prev, next State) []Stage {
	var out []Stage
	for st := StageGeometry; st <= StageOutput; st++ {
		if !groupEqual(prev, next, st) {
			out = append(out, st)
		}
	}
	return out
}

func groupEqual(a, b State, st Stage) bool {
	switch st {
	case StageGeometry:
		return a.Geometry == b.Geometry
	case StageTonal:
		return a.Tone == b.Tone
	case StageColor:
		return a.Color == b.Color
	case StageChannel:
		return a.Channels == b.Channels
	case StageClarity:
		return a.Clarity == b.Clarity
	case StageDetail:
		return a.Detail == b.Detail
	case StageEffects:
		return a.Effects == b.Effects
	case StageOutput:
		return a.Output == b.Output
	}
	return true
}
