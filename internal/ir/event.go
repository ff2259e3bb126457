package ir

import (
	"errors"
	"fmt"
)

// EventName identifies a domain event.
type EventName string

const (
	EventNotebookInitialized    EventName = "notebookInitialized"
	EventNotebookTitleChanged   EventName = "notebookTitleChanged"
	EventCellCreated            EventName = "cellCreated"
	EventCellSourceChanged      EventName = "cellSourceChanged"
	EventCellDeleted            EventName = "cellDeleted"
	EventCellMoved              EventName = "cellMoved"
	EventExecutionRequested     EventName = "executionRequested"
	EventExecutionAssigned      EventName = "executionAssigned"
	EventExecutionStarted       EventName = "executionStarted"
	EventExecutionCompleted     EventName = "executionCompleted"
	EventExecutionFailed        EventName = "executionFailed"
	EventKernelSessionStarted   EventName = "kernelSessionStarted"
	EventKernelSessionHeartbeat EventName = "kernelSessionHeartbeat"
)

// EventNames lists every known event in a stable order.
var EventNames = []EventName{
	EventNotebookInitialized,
	EventNotebookTitleChanged,
	EventCellCreated,
	EventCellSourceChanged,
	EventCellDeleted,
	EventCellMoved,
	EventExecutionRequested,
	EventExecutionAssigned,
	EventExecutionStarted,
	EventExecutionCompleted,
	EventExecutionFailed,
	EventKernelSessionStarted,
	EventKernelSessionHeartbeat,
}

// Valid reports whether n is a known event name.
func (n EventName) Valid() bool {
	for _, known := range EventNames {
		if n == known {
			return true
		}
	}
	return false
}

// Event is one immutable record of the log.
//
// Seq is assigned by the log on append and is the only ordering key.
type Event struct {
	Seq     int64     `json:"seq"`
	ID      string    `json:"id"`
	Name    EventName `json:"name"`
	Payload IRObject  `json:"payload"`
	Origin  string    `json:"origin"`
	Digest  string    `json:"digest,omitempty"`
}

// Payload is implemented by every typed event payload.
type Payload interface {
	EventName() EventName
	Encode() IRObject
}

// CellType is the kind of a notebook cell.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
	CellSQL      CellType = "sql"
	CellAI       CellType = "ai"
)

// Valid reports whether t is one of the supported cell types.
func (t CellType) Valid() bool {
	switch t {
	case CellCode, CellMarkdown, CellRaw, CellSQL, CellAI:
		return true
	}
	return false
}

// Output is one output record produced by an execution.
type Output struct {
	OutputType string `json:"outputType"`     // stream | execute_result | display_data | error
	Name       string `json:"name,omitempty"` // stream name, e.g. stdout
	MimeType   string `json:"mimeType,omitempty"`
	Text       string `json:"text"`
}

// Encode renders the output for a payload. Empty optional fields are omitted.
func (o Output) Encode() IRObject {
	obj := IRObject{
		"outputType": IRString(o.OutputType),
		"text":       IRString(o.Text),
	}
	if o.Name != "" {
		obj["name"] = IRString(o.Name)
	}
	if o.MimeType != "" {
		obj["mimeType"] = IRString(o.MimeType)
	}
	return obj
}

// DecodeOutput parses an output record.
func DecodeOutput(obj IRObject) (Output, error) {
	var o Output
	var err error
	if o.OutputType, err = obj.String("outputType"); err != nil {
		return o, err
	}
	if o.Text, err = obj.String("text"); err != nil {
		return o, err
	}
	if o.Name, err = obj.StringOr("name", ""); err != nil {
		return o, err
	}
	if o.MimeType, err = obj.StringOr("mimeType", ""); err != nil {
		return o, err
	}
	return o, nil
}

// EncodeOutputs renders a list of outputs.
func EncodeOutputs(outputs []Output) IRArray {
	arr := make(IRArray, len(outputs))
	for i, o := range outputs {
		arr[i] = o.Encode()
	}
	return arr
}

// DecodeOutputs parses a list of outputs.
func DecodeOutputs(arr IRArray) ([]Output, error) {
	outputs := make([]Output, 0, len(arr))
	for i, v := range arr {
		obj, ok := v.(IRObject)
		if !ok {
			return nil, &PayloadError{Field: fmt.Sprintf("outputs[%d]", i), Message: "expected object"}
		}
		o, err := DecodeOutput(obj)
		if err != nil {
			return nil, fmt.Errorf("outputs[%d]: %w", i, err)
		}
		outputs = append(outputs, o)
	}
	return outputs, nil
}

// ErrorInfo is the structured description of a failed execution.
type ErrorInfo struct {
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

// Encode renders the error for a payload.
func (e ErrorInfo) Encode() IRObject {
	tb := make(IRArray, len(e.Traceback))
	for i, line := range e.Traceback {
		tb[i] = IRString(line)
	}
	return IRObject{
		"ename":     IRString(e.Name),
		"evalue":    IRString(e.Value),
		"traceback": tb,
	}
}

// DecodeErrorInfo parses an error description.
func DecodeErrorInfo(obj IRObject) (ErrorInfo, error) {
	var e ErrorInfo
	var err error
	if e.Name, err = obj.String("ename"); err != nil {
		return e, err
	}
	if e.Value, err = obj.StringOr("evalue", ""); err != nil {
		return e, err
	}
	tb, err := obj.Array("traceback")
	if err != nil {
		return e, err
	}
	for i, v := range tb {
		s, ok := v.(IRString)
		if !ok {
			return e, &PayloadError{Field: fmt.Sprintf("traceback[%d]", i), Message: "expected string"}
		}
		e.Traceback = append(e.Traceback, string(s))
	}
	return e, nil
}

// Decode parses an event's payload into its typed form. Payload errors are
// annotated with the event name.
func Decode(ev Event) (Payload, error) {
	p, err := decode(ev.Name, ev.Payload)
	if err != nil {
		var pe *PayloadError
		if errors.As(err, &pe) && pe.Event == "" {
			pe.Event = ev.Name
		}
		return nil, err
	}
	return p, nil
}

func decode(name EventName, obj IRObject) (Payload, error) {
	if obj == nil {
		obj = IRObject{}
	}
	switch name {
	case EventNotebookInitialized:
		return decodeNotebookInitialized(obj)
	case EventNotebookTitleChanged:
		title, err := obj.String("title")
		return NotebookTitleChanged{Title: title}, err
	case EventCellCreated:
		return decodeCellCreated(obj)
	case EventCellSourceChanged:
		id, err := requireID(obj, "id")
		if err != nil {
			return nil, err
		}
		src, err := obj.String("source")
		return CellSourceChanged{ID: id, Source: src}, err
	case EventCellDeleted:
		id, err := requireID(obj, "id")
		return CellDeleted{ID: id}, err
	case EventCellMoved:
		id, err := requireID(obj, "id")
		if err != nil {
			return nil, err
		}
		pos, err := obj.Int("newPosition")
		return CellMoved{ID: id, NewPosition: pos}, err
	case EventExecutionRequested:
		return decodeExecutionRequested(obj)
	case EventExecutionAssigned:
		entryID, sessionID, err := entryAndSession(obj)
		return ExecutionAssigned{EntryID: entryID, SessionID: sessionID}, err
	case EventExecutionStarted:
		entryID, sessionID, err := entryAndSession(obj)
		return ExecutionStarted{EntryID: entryID, SessionID: sessionID}, err
	case EventExecutionCompleted:
		return decodeExecutionCompleted(obj)
	case EventExecutionFailed:
		return decodeExecutionFailed(obj)
	case EventKernelSessionStarted:
		return decodeKernelSessionStarted(obj)
	case EventKernelSessionHeartbeat:
		return decodeKernelSessionHeartbeat(obj)
	default:
		return nil, &PayloadError{Event: name, Field: "name", Message: "unknown event"}
	}
}

func requireID(obj IRObject, key string) (string, error) {
	s, err := obj.String(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &PayloadError{Field: key, Message: "must not be empty"}
	}
	return s, nil
}

func entryAndSession(obj IRObject) (string, string, error) {
	entryID, err := requireID(obj, "entryId")
	if err != nil {
		return "", "", err
	}
	sessionID, err := requireID(obj, "sessionId")
	if err != nil {
		return "", "", err
	}
	return entryID, sessionID, nil
}
