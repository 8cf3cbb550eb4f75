package core

import (
	"encoding/hex"
	"errors"
	"sync"
)

// MockContextFactory implements ContextFactory for testing
type MockContextFactory struct {
	ctx         *MockSmartCardContext
	shouldError bool
}

func (f *MockContextFactory) EstablishContext() (SmartCardContext, error) {
	if f.shouldError {
		return nil, errors.New("service not available")
	}
	return f.ctx, nil
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	readers     []string
	cards       map[string]*MockSmartCard
	shouldError bool
	errorMsg    string
	released    bool
}

// MockSmartCard implements SmartCard for testing
type MockSmartCard struct {
	mu           sync.Mutex
	atr          []byte
	statusErr    error
	disconnected bool
}

// NewMockContext creates a new mock context with predefined readers
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{
			"Gemalto PC Twin Reader 00 00",
			"Identiv uTrust 3700 F 01 00",
			"ACS ACR39U ICC Reader 02 00",
		},
		cards: make(map[string]*MockSmartCard),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers []string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard adds a mock card to a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *MockSmartCard) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithError makes the context return errors
func (m *MockSmartCardContext) WithError(msg string) *MockSmartCardContext {
	m.shouldError = true
	m.errorMsg = msg
	return m
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no card present")
	}
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.released = true
	return nil
}

// NewMockCard creates a mock card with the given hex ATR
func NewMockCard(atrHex string) *MockSmartCard {
	atr, _ := hex.DecodeString(atrHex)
	return &MockSmartCard{atr: atr}
}

// WithStatusError makes Status fail
func (m *MockSmartCard) WithStatusError(msg string) *MockSmartCard {
	m.statusErr = errors.New(msg)
	return m
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	return []byte{0x6D, 0x00}, nil // instruction not supported
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return SmartCardStatus{}, m.statusErr
	}
	return SmartCardStatus{Atr: m.atr}, nil
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}

func (m *MockSmartCard) WasDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}
