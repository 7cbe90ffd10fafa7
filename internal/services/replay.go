package services

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/veloria-ai/fmcore/internal/types"
)

// adapterState is the in-memory accumulation target for event replay. The
// learning update itself is opaque to the orchestrator; what matters here
// is that events apply strictly in sequence order and unknown types are
// skipped.
type adapterState struct {
	Subjects map[string]*subjectState `json:"subjects"`
}

type subjectState struct {
	UpdatesApplied int     `json:"updates_applied"`
	Mastery        float64 `json:"mastery"`
	LastSequence   int64   `json:"last_sequence"`
}

func newAdapterState(subjects []string) *adapterState {
	st := &adapterState{Subjects: map[string]*subjectState{}}
	for _, s := range subjects {
		st.Subjects[s] = &subjectState{}
	}
	return st
}

// applyLearningUpdate folds one event into the state. Returns true when
// the event type was recognized and applied.
func (st *adapterState) applyLearningUpdate(e *types.EventLogEntry) bool {
	recognized := false
	for _, t := range types.ReplayableEventTypes {
		if e.EventType == t {
			recognized = true
			break
		}
	}
	if !recognized {
		return false
	}

	var data map[string]any
	if len(e.EventData) > 0 {
		_ = json.Unmarshal(e.EventData, &data)
	}
	subject, _ := data["subject"].(string)
	if subject == "" {
		subject = "general"
	}
	sub := st.Subjects[subject]
	if sub == nil {
		sub = &subjectState{}
		st.Subjects[subject] = sub
	}

	sub.UpdatesApplied++
	sub.LastSequence = e.SequenceNumber
	if delta, ok := data["mastery_delta"].(float64); ok {
		sub.Mastery += delta
	}
	return true
}

// serialize produces the adapter blob persisted into the checkpoint store
// after replay. Subject order is fixed so equal state yields equal bytes.
func (st *adapterState) serialize() []byte {
	keys := make([]string, 0, len(st.Subjects))
	for k := range st.Subjects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := map[string]*subjectState{}
	for _, k := range keys {
		out[k] = st.Subjects[k]
	}
	b, err := json.Marshal(out)
	if err != nil {
		return []byte(fmt.Sprintf("{%q:%q}", "error", err.Error()))
	}
	return b
}
