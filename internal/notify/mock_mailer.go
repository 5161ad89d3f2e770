package notify

import (
	"github.com/stretchr/testify/mock"
)

// MockMailer is a testify mock of the Mailer interface for tests.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(recipients []string, subject, body string) error {
	args := m.Called(recipients, subject, body)
	return args.Error(0)
}
