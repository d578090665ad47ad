package types

import "github.com/m-mizutani/goerr/v2"

// Intent is the category a request is classified into.
type Intent string

const (
	IntentSimpleQuery  Intent = "simple-query"
	IntentComplexTask  Intent = "complex-task"
	IntentMemoryStore  Intent = "memory-store"
	IntentMemoryRecall Intent = "memory-recall"
	IntentOther        Intent = "other"
)

// AllIntents returns every valid intent in a stable order
func AllIntents() []Intent {
	return []Intent{
		IntentSimpleQuery,
		IntentComplexTask,
		IntentMemoryStore,
		IntentMemoryRecall,
		IntentOther,
	}
}

func (i Intent) IsValid() bool {
	switch i {
	case IntentSimpleQuery,
		IntentComplexTask,
		IntentMemoryStore,
		IntentMemoryRecall,
		IntentOther:
		return true
	default:
		return false
	}
}

func (i Intent) String() string {
	return string(i)
}

// ParseIntent parses a string into an Intent
func ParseIntent(s string) (Intent, error) {
	intent := Intent(s)
	if !intent.IsValid() {
		return "", goerr.New("invalid intent", goerr.V("intent", s))
	}
	return intent, nil
}
