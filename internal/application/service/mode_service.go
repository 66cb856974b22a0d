package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"candleflow/internal/domain/model"
	"candleflow/internal/domain/port"
)

// StreamFactory строит транспорт для режима: live → websocket, test → генератор.
type StreamFactory func(mode model.DataMode) (port.StreamPort, error)

// Rebinder переносит подписки на новый поток.
type Rebinder interface {
	Rebind(stream port.StreamPort)
}

// ModeService управляет текущим режимом (Live/Test) и активным потоком.
type ModeService struct {
	currentMode model.DataMode
	stream      port.StreamPort
	factory     StreamFactory
	targets     []Rebinder
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewModeService(initial model.DataMode, factory StreamFactory, logger *slog.Logger) *ModeService {
	return &ModeService{
		currentMode: initial,
		factory:     factory,
		logger:      logger.With("component", "mode_service"),
	}
}

// Start создаёт поток для начального режима и подключает его. Ошибка
// подключения не фатальна: транспорт сам переподключается.
func (s *ModeService) Start(ctx context.Context) (port.StreamPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.factory(s.currentMode)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s stream: %w", s.currentMode, err)
	}
	s.connect(ctx, stream)
	s.stream = stream
	return stream, nil
}

// Attach регистрирует контроллеры, которые переедут на новый поток при смене режима.
func (s *ModeService) Attach(targets ...Rebinder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, targets...)
}

func (s *ModeService) SwitchMode(ctx context.Context, mode model.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMode == mode && s.stream != nil {
		return nil
	}

	next, err := s.factory(mode)
	if err != nil {
		return fmt.Errorf("failed to build %s stream: %w", mode, err)
	}
	s.connect(ctx, next)

	for _, t := range s.targets {
		t.Rebind(next)
	}

	if s.stream != nil {
		if err := s.stream.Disconnect(); err != nil {
			s.logger.Error("failed to disconnect previous stream", "stream", s.stream.Name(), "error", err)
		}
	}

	s.logger.Info("mode updated", "old", s.currentMode.String(), "new", mode.String(), "stream", next.Name())
	s.currentMode = mode
	s.stream = next
	return nil
}

func (s *ModeService) connect(ctx context.Context, stream port.StreamPort) {
	if err := stream.Connect(ctx); err != nil {
		s.logger.Warn("stream connect failed, relying on reconnect", "stream", stream.Name(), "error", err)
	}
}

func (s *ModeService) GetCurrentMode() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}

func (s *ModeService) Stream() port.StreamPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

// Stop отключает активный поток.
func (s *ModeService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Disconnect()
	s.stream = nil
	return err
}
