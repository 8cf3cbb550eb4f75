package core

// SmartCardContext represents a PC/SC context for listing readers
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected smart card
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus represents the status of a smart card
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances
// This allows for dependency injection and mocking in tests
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// Detector lists the cards currently inserted. Operations depend on this
// rather than on a ContextFactory so tests can supply fixed card sets.
type Detector func() ([]DetectedCard, error)

// FactoryDetector adapts a ContextFactory to a Detector.
func FactoryDetector(factory ContextFactory) Detector {
	return func() ([]DetectedCard, error) {
		return DetectCards(factory)
	}
}
