package memory

import (
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
)

// Memory is an in-process Repository for development and tests.
type Memory struct {
	memory  *memoryRepository
	usage   *usageRepository
	history *historyRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		memory:  newMemoryRepository(),
		usage:   newUsageRepository(),
		history: newHistoryRepository(),
	}
}

func (m *Memory) Memory() interfaces.MemoryRepository {
	return m.memory
}

func (m *Memory) Usage() interfaces.UsageRepository {
	return m.usage
}

func (m *Memory) History() interfaces.HistoryRepository {
	return m.history
}

func (m *Memory) Close() error {
	return nil
}
