package session

import (
	"errors"
	"fmt"
	"strings"

	"nanostyle-server/modules/intake"
)

var (
	ErrNotReady             = errors.New("session is not ready for this action")
	ErrBusy                 = errors.New("a request is already in progress")
	ErrSessionNotFound      = errors.New("session not found")
	ErrUnknownRole          = errors.New("unknown image role")
	ErrSuggestionOutOfRange = errors.New("suggestion index out of range")
	ErrResultNotFound       = errors.New("no result available")
)

// Status - 요청 진행 상태
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusLoading Status = "LOADING"
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// Role - 이미지 슬롯
type Role string

const (
	RolePerson  Role = "person"
	RoleGarment Role = "garment"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePerson, RoleGarment:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

type Action string

const (
	ActionGenerate Action = "generate"
	ActionEdit     Action = "edit"
)

// State - 한 세션의 화면 상태 전체
type State struct {
	Person     *intake.ImageRecord
	Garment    *intake.ImageRecord
	Result     string
	Status     Status
	Error      string
	EditPrompt string
}

func NewState() State {
	return State{Status: StatusIdle}
}

// Ready - action을 지금 시작할 수 있는지
func (s State) Ready(action Action) error {
	if s.Status == StatusLoading {
		return ErrBusy
	}

	switch action {
	case ActionGenerate:
		if s.Person == nil || s.Garment == nil {
			return fmt.Errorf("%w: both images are required", ErrNotReady)
		}
	case ActionEdit:
		if s.Result == "" {
			return fmt.Errorf("%w: there is no result to edit", ErrNotReady)
		}
		if strings.TrimSpace(s.EditPrompt) == "" {
			return fmt.Errorf("%w: edit prompt is empty", ErrNotReady)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrNotReady, action)
	}
	return nil
}

func (s State) Image(role Role) *intake.ImageRecord {
	if role == RolePerson {
		return s.Person
	}
	return s.Garment
}

// withImage - role 슬롯만 교체한 복사본
func (s State) withImage(role Role, rec *intake.ImageRecord) State {
	if role == RolePerson {
		s.Person = rec
	} else {
		s.Garment = rec
	}
	return s
}
