package session

type Phase int

const (
	PhaseStarted Phase = iota
	PhaseSucceeded
	PhaseFailed
)

const (
	generateFallbackError = "An error occurred while generating the image."
	editFailedError       = "Failed to edit the image. Try again with a different prompt."
)

// Event - generate/edit 진행 단계
// Image는 성공 시 결과, Previous는 edit 시작 시점의 결과 스냅샷
type Event struct {
	Action   Action
	Phase    Phase
	Image    string
	Err      error
	Previous string
}

// Transition - 순수 상태 전이 함수
func Transition(s State, e Event) State {
	switch e.Action {
	case ActionGenerate:
		switch e.Phase {
		case PhaseStarted:
			s.Status = StatusLoading
			s.Error = ""
			s.Result = ""
		case PhaseSucceeded:
			s.Result = e.Image
			s.Status = StatusSuccess
		case PhaseFailed:
			s.Error = generateFallbackError
			if e.Err != nil && e.Err.Error() != "" {
				s.Error = e.Err.Error()
			}
			s.Status = StatusError
		}

	case ActionEdit:
		switch e.Phase {
		case PhaseStarted:
			s.Status = StatusLoading
			s.Error = ""
		case PhaseSucceeded:
			s.Result = e.Image
			s.EditPrompt = ""
			s.Status = StatusSuccess
		case PhaseFailed:
			s.Result = e.Previous
			s.Error = editFailedError
			s.Status = StatusError
		}
	}
	return s
}
