package exchange

import "sync"

// CredentialStore разрешает opaque credential ref в признак валидности.
// Сами ключи никогда не покидают хранилище: наружу уходит только ref.
type CredentialStore interface {
	// Validate возвращает ErrUnknownCredential если ref не зарегистрирован
	Validate(ref string) error
}

// MemoryCredentialStore - потокобезопасное in-memory хранилище refs.
// Используется в sim режиме и тестах; production подключает внешний vault.
type MemoryCredentialStore struct {
	mu   sync.RWMutex
	refs map[string]struct{}
}

// NewMemoryCredentialStore создает хранилище с начальным набором refs
func NewMemoryCredentialStore(refs ...string) *MemoryCredentialStore {
	s := &MemoryCredentialStore{refs: make(map[string]struct{}, len(refs))}
	for _, r := range refs {
		s.refs[r] = struct{}{}
	}
	return s
}

// Register добавляет ref в хранилище
func (s *MemoryCredentialStore) Register(ref string) {
	s.mu.Lock()
	s.refs[ref] = struct{}{}
	s.mu.Unlock()
}

// Validate проверяет что ref зарегистрирован
func (s *MemoryCredentialStore) Validate(ref string) error {
	s.mu.RLock()
	_, ok := s.refs[ref]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownCredential
	}
	return nil
}
