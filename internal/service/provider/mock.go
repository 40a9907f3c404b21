package provider

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockProvider — конфигурируемая заглушка платёжного провайдера.
//
// Используется в тестах и в dev-режиме без внешнего провайдера:
// генерирует детерминированные session id и запоминает запросы,
// чтобы тесты могли собрать из них webhook-события.
type MockProvider struct {
	CreateErr error

	mu       sync.Mutex
	seq      int
	requests []domain.SessionRequest
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// CreateSession выдаёт очередную сессию вида cs_mock_N или настроенную ошибку.
func (m *MockProvider) CreateSession(req domain.SessionRequest) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return domain.CheckoutSession{}, m.CreateErr
	}

	m.seq++
	m.requests = append(m.requests, req)

	id := fmt.Sprintf("cs_mock_%06d", m.seq)
	return domain.CheckoutSession{
		ID:  id,
		URL: "https://pay.example.test/session/" + id,
	}, nil
}

// Calls возвращает число созданных сессий.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest возвращает последний запрос на создание сессии.
func (m *MockProvider) LastRequest() (domain.SessionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return domain.SessionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

var _ domain.CheckoutProvider = (*MockProvider)(nil)
