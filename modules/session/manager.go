package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nanostyle-server/modules/intake"
	"nanostyle-server/modules/tryon"
)

// ErrRequestFailed wraps a generate/edit failure returned by the model
// service. The session itself is already in ERROR when this is returned.
var ErrRequestFailed = errors.New("generation request failed")

// Observer - 세션 상태 변경 구독자 (WebSocket hub)
type Observer interface {
	SessionChanged(v View)
	SessionRemoved(id string)
}

// ResultPublisher - 성공한 결과를 외부에 보관 (Redis cache, Supabase archive)
type ResultPublisher interface {
	PublishResult(ctx context.Context, sessionID, resultURL string) error
}

type Options struct {
	IdleTimeout time.Duration
	MaxAge      time.Duration
	Publishers  []ResultPublisher
}

type session struct {
	id           string
	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
}

func (s *session) view() View {
	return newView(s.id, s.state, s.createdAt, s.lastActivity)
}

// Manager - 세션 관리 + generate/edit 오케스트레이션
type Manager struct {
	generator tryon.Generator
	previews  *intake.PreviewRegistry
	opts      Options
	metrics   *Metrics
	now       func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*session
	observers []Observer

	publishing sync.WaitGroup
}

func NewManager(generator tryon.Generator, previews *intake.PreviewRegistry, opts Options) *Manager {
	return &Manager{
		generator: generator,
		previews:  previews,
		opts:      opts,
		metrics:   newMetrics(),
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Create - 새 세션 생성
func (m *Manager) Create() View {
	now := m.now()
	s := &session{
		id:           uuid.NewString(),
		state:        NewState(),
		createdAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.sessionCreated()
	log.Info().Str("session", s.id).Int("active", active).Msg("✅ Created new session")

	return s.view()
}

func (m *Manager) Get(id string) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = m.now()
	return s.view(), nil
}

// Delete - 세션 제거 + preview 해제
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	m.release(s)
	m.metrics.sessionsRemoved(1)
	m.notifyRemoved(id)
	log.Info().Str("session", id).Msg("👋 Session deleted")
	return nil
}

// SetImage - 슬롯 이미지 교체, 이전 preview 해제. rec가 nil이면 아무것도 안 함
func (m *Manager) SetImage(id string, role Role, rec *intake.ImageRecord) (View, error) {
	if rec == nil {
		return m.Get(id)
	}
	return m.update(id, func(s *session) {
		if prev := s.state.Image(role); prev != nil {
			m.previews.Release(prev.PreviewHandle)
		}
		s.state = s.state.withImage(role, rec)
	})
}

// ClearImage - 슬롯만 비움 (결과/상태/프롬프트는 그대로)
func (m *Manager) ClearImage(id string, role Role) (View, error) {
	return m.update(id, func(s *session) {
		if prev := s.state.Image(role); prev != nil {
			m.previews.Release(prev.PreviewHandle)
		}
		s.state = s.state.withImage(role, nil)
	})
}

func (m *Manager) SetEditPrompt(id, prompt string) (View, error) {
	return m.update(id, func(s *session) {
		s.state.EditPrompt = prompt
	})
}

// ApplySuggestion - 추천 프롬프트로 편집 프롬프트 교체
func (m *Manager) ApplySuggestion(id string, index int) (View, error) {
	if index < 0 || index >= len(Suggestions) {
		return View{}, fmt.Errorf("%w: %d", ErrSuggestionOutOfRange, index)
	}
	return m.SetEditPrompt(id, Suggestions[index])
}

// Result - 현재 결과 data URL
func (m *Manager) Result(id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Result == "" {
		return "", ErrResultNotFound
	}
	return s.state.Result, nil
}

// Generate - 가상 피팅 생성
// LOADING 중이면 요청 없이 ErrBusy. 모델 실패 시 세션은 ERROR, 반환 에러는 ErrRequestFailed
func (m *Manager) Generate(ctx context.Context, id string) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	if err := s.state.Ready(ActionGenerate); err != nil {
		view := s.view()
		s.mu.Unlock()
		return view, err
	}
	personData, personMIME := s.state.Person.Payload()
	garmentData, garmentMIME := s.state.Garment.Payload()
	view := m.apply(s, Event{Action: ActionGenerate, Phase: PhaseStarted})
	s.mu.Unlock()
	m.notify(view)

	log.Info().Str("session", id).Msg("🎨 Generating try-on image")

	// HTTP 요청이 끊겨도 진행 중인 호출은 취소하지 않음
	result, callErr := m.generator.GenerateTryOn(context.WithoutCancel(ctx),
		tryon.ImagePayload{Data: personData, MIMEType: personMIME},
		tryon.ImagePayload{Data: garmentData, MIMEType: garmentMIME},
	)

	return m.finish(s, ActionGenerate, result, callErr, "")
}

// Edit - 현재 결과를 편집 프롬프트로 수정, 실패 시 이전 결과로 복구
func (m *Manager) Edit(ctx context.Context, id string) (View, error) {
	return m.edit(ctx, id, nil)
}

// EditWithPrompt - 프롬프트 교체 + 편집을 한 번에
// 준비 검사에서 거절되면 프롬프트도 바뀌지 않음
func (m *Manager) EditWithPrompt(ctx context.Context, id, prompt string) (View, error) {
	return m.edit(ctx, id, &prompt)
}

func (m *Manager) edit(ctx context.Context, id string, newPrompt *string) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	candidate := s.state
	if newPrompt != nil {
		candidate.EditPrompt = *newPrompt
	}
	if err := candidate.Ready(ActionEdit); err != nil {
		view := s.view()
		s.mu.Unlock()
		return view, err
	}
	s.state = candidate
	previous := s.state.Result
	prompt := s.state.EditPrompt
	view := m.apply(s, Event{Action: ActionEdit, Phase: PhaseStarted})
	s.mu.Unlock()
	m.notify(view)

	log.Info().Str("session", id).Str("prompt", prompt).Msg("✏️  Editing result image")

	result, callErr := m.generator.EditGeneratedImage(context.WithoutCancel(ctx), previous, prompt)

	return m.finish(s, ActionEdit, result, callErr, previous)
}

func (m *Manager) finish(s *session, action Action, result string, callErr error, previous string) (View, error) {
	event := Event{Action: action, Phase: PhaseSucceeded, Image: result, Previous: previous}
	if callErr != nil {
		event = Event{Action: action, Phase: PhaseFailed, Err: callErr, Previous: previous}
	}

	s.mu.Lock()
	view := m.apply(s, event)
	s.mu.Unlock()
	m.metrics.recordRequest(action, callErr == nil)

	// 진행 중에 삭제/만료된 세션이면 알림·보관 없이 종료
	live := m.isLive(s)
	if live {
		m.notify(view)
	}

	if callErr != nil {
		log.Warn().Err(callErr).Str("session", s.id).Str("action", string(action)).Msg("❌ Request failed")
		return view, fmt.Errorf("%w: %w", ErrRequestFailed, callErr)
	}

	if !live {
		log.Info().Str("session", s.id).Str("action", string(action)).Msg("🗑️  Session removed during request, result discarded")
		return view, nil
	}

	log.Info().Str("session", s.id).Str("action", string(action)).Msg("✅ Request succeeded")
	m.publish(s.id, result)
	return view, nil
}

// apply - s.mu 잡은 상태에서 호출
func (m *Manager) apply(s *session, e Event) View {
	s.state = Transition(s.state, e)
	s.lastActivity = m.now()
	return s.view()
}

func (m *Manager) update(id string, fn func(s *session)) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	fn(s)
	s.lastActivity = m.now()
	view := s.view()
	s.mu.Unlock()

	m.notify(view)
	return view, nil
}

func (m *Manager) isLive(s *session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[s.id] == s
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// publish - 결과 보관은 백그라운드, 실패는 로그만
func (m *Manager) publish(id, result string) {
	for _, p := range m.opts.Publishers {
		m.publishing.Add(1)
		go func(p ResultPublisher) {
			defer m.publishing.Done()
			if err := p.PublishResult(context.Background(), id, result); err != nil {
				log.Warn().Err(err).Str("session", id).Msg("⚠️  Failed to publish result")
			}
		}(p)
	}
}

// Wait - 진행 중인 결과 보관 작업 대기 (shutdown 용)
func (m *Manager) Wait() {
	m.publishing.Wait()
}

func (m *Manager) notify(v View) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()

	for _, o := range observers {
		o.SessionChanged(v)
	}
}

func (m *Manager) notifyRemoved(id string) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()

	for _, o := range observers {
		o.SessionRemoved(id)
	}
}

func (m *Manager) release(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range []*intake.ImageRecord{s.state.Person, s.state.Garment} {
		if rec != nil {
			m.previews.Release(rec.PreviewHandle)
		}
	}
}

// CleanupExpired - 비활성/만료 세션 정리, 정리된 수 반환
func (m *Manager) CleanupExpired() int {
	now := m.now()

	var expired []*session
	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		age := now.Sub(s.createdAt)
		idle := now.Sub(s.lastActivity)
		s.mu.Unlock()

		if age > m.opts.MaxAge || idle > m.opts.IdleTimeout {
			delete(m.sessions, id)
			expired = append(expired, s)
			log.Info().
				Str("session", id).
				Dur("age", age).
				Dur("idle", idle).
				Msg("⏰ Cleaned up expired session")
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		m.release(s)
		m.notifyRemoved(s.id)
	}

	if len(expired) > 0 {
		m.metrics.sessionsRemoved(len(expired))
		log.Info().Int("cleaned", len(expired)).Int("active", active).Msg("🧼 Session cleanup finished")
	}
	return len(expired)
}

// StartCleanupRoutine - ctx가 끝날 때까지 interval마다 CleanupExpired
func (m *Manager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("🔄 Started session cleanup routine")
}
