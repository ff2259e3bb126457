package ir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsEveryPayload(t *testing.T) {
	payloads := []Payload{
		NotebookInitialized{Title: "Analysis", Owner: "alice", KernelType: "python3"},
		NotebookTitleChanged{Title: "Renamed"},
		CellCreated{ID: "c1", Position: 3, CellType: CellSQL, Source: "select 1", CreatedBy: "alice"},
		CellSourceChanged{ID: "c1", Source: "select 2"},
		CellDeleted{ID: "c1"},
		CellMoved{ID: "c1", NewPosition: -1},
		ExecutionRequested{EntryID: "e1", CellID: "c1", RequestedBy: "alice"},
		ExecutionAssigned{EntryID: "e1", SessionID: "s1"},
		ExecutionStarted{EntryID: "e1", SessionID: "s1"},
		ExecutionCompleted{EntryID: "e1", SessionID: "s1", Outputs: []Output{
			{OutputType: "stream", Name: "stdout", Text: "4\n"},
			{OutputType: "execute_result", MimeType: "text/plain", Text: "4"},
		}},
		ExecutionFailed{EntryID: "e1", SessionID: "s1", Error: ErrorInfo{
			Name: "ZeroDivisionError", Value: "division by zero", Traceback: []string{"line 1"},
		}},
		KernelSessionStarted{SessionID: "s1", KernelType: "python3", At: 1000},
		KernelSessionHeartbeat{SessionID: "s1", Status: "ready", At: 2000},
	}

	require.Len(t, payloads, len(EventNames), "every event name has a payload under test")

	for _, p := range payloads {
		t.Run(string(p.EventName()), func(t *testing.T) {
			ev := Event{Name: p.EventName(), Payload: p.Encode()}
			got, err := Decode(ev)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestDecode_MissingField(t *testing.T) {
	ev := Event{Name: EventExecutionAssigned, Payload: IRObject{"entryId": IRString("e1")}}

	_, err := Decode(ev)
	require.Error(t, err)

	var pe *PayloadError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, EventExecutionAssigned, pe.Event)
	assert.Equal(t, "sessionId", pe.Field)
}

func TestDecode_EmptyID(t *testing.T) {
	ev := Event{Name: EventCellDeleted, Payload: IRObject{"id": IRString("")}}
	_, err := Decode(ev)
	assert.Error(t, err)
}

func TestDecode_UnknownCellType(t *testing.T) {
	p := CellCreated{ID: "c1", CellType: "notebook"}
	_, err := Decode(Event{Name: EventCellCreated, Payload: p.Encode()})
	assert.Error(t, err)
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode(Event{Name: "cellExploded", Payload: IRObject{}})
	assert.Error(t, err)
	assert.False(t, EventName("cellExploded").Valid())
}

func TestDecode_WrongType(t *testing.T) {
	ev := Event{Name: EventCellMoved, Payload: IRObject{
		"id":          IRString("c1"),
		"newPosition": IRString("two"),
	}}
	_, err := Decode(ev)
	assert.Error(t, err)
}
