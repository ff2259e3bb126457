package ir

// NotebookInitialized sets the singleton notebook record.
type NotebookInitialized struct {
	Title      string
	Owner      string
	KernelType string
}

func (NotebookInitialized) EventName() EventName { return EventNotebookInitialized }

func (p NotebookInitialized) Encode() IRObject {
	return IRObject{
		"title":      IRString(p.Title),
		"owner":      IRString(p.Owner),
		"kernelType": IRString(p.KernelType),
	}
}

func decodeNotebookInitialized(obj IRObject) (Payload, error) {
	var p NotebookInitialized
	var err error
	if p.Title, err = obj.StringOr("title", ""); err != nil {
		return nil, err
	}
	if p.Owner, err = obj.StringOr("owner", ""); err != nil {
		return nil, err
	}
	if p.KernelType, err = obj.StringOr("kernelType", ""); err != nil {
		return nil, err
	}
	return p, nil
}

// NotebookTitleChanged renames the notebook.
type NotebookTitleChanged struct {
	Title string
}

func (NotebookTitleChanged) EventName() EventName { return EventNotebookTitleChanged }

func (p NotebookTitleChanged) Encode() IRObject {
	return IRObject{"title": IRString(p.Title)}
}

// CellCreated inserts a cell.
type CellCreated struct {
	ID        string
	Position  int64
	CellType  CellType
	Source    string
	CreatedBy string
}

func (CellCreated) EventName() EventName { return EventCellCreated }

func (p CellCreated) Encode() IRObject {
	return IRObject{
		"id":        IRString(p.ID),
		"position":  IRInt(p.Position),
		"cellType":  IRString(p.CellType),
		"source":    IRString(p.Source),
		"createdBy": IRString(p.CreatedBy),
	}
}

func decodeCellCreated(obj IRObject) (Payload, error) {
	var p CellCreated
	var err error
	if p.ID, err = requireID(obj, "id"); err != nil {
		return nil, err
	}
	if p.Position, err = obj.Int("position"); err != nil {
		return nil, err
	}
	ct, err := obj.String("cellType")
	if err != nil {
		return nil, err
	}
	p.CellType = CellType(ct)
	if !p.CellType.Valid() {
		return nil, &PayloadError{Field: "cellType", Message: "unknown cell type " + ct}
	}
	if p.Source, err = obj.StringOr("source", ""); err != nil {
		return nil, err
	}
	if p.CreatedBy, err = obj.StringOr("createdBy", ""); err != nil {
		return nil, err
	}
	return p, nil
}

// CellSourceChanged replaces a cell's source text.
type CellSourceChanged struct {
	ID     string
	Source string
}

func (CellSourceChanged) EventName() EventName { return EventCellSourceChanged }

func (p CellSourceChanged) Encode() IRObject {
	return IRObject{"id": IRString(p.ID), "source": IRString(p.Source)}
}

// CellDeleted tombstones a cell.
type CellDeleted struct {
	ID string
}

func (CellDeleted) EventName() EventName { return EventCellDeleted }

func (p CellDeleted) Encode() IRObject {
	return IRObject{"id": IRString(p.ID)}
}

// CellMoved reassigns a cell's position.
type CellMoved struct {
	ID          string
	NewPosition int64
}

func (CellMoved) EventName() EventName { return EventCellMoved }

func (p CellMoved) Encode() IRObject {
	return IRObject{"id": IRString(p.ID), "newPosition": IRInt(p.NewPosition)}
}

// ExecutionRequested creates a pending queue entry.
type ExecutionRequested struct {
	EntryID     string
	CellID      string
	RequestedBy string
}

func (ExecutionRequested) EventName() EventName { return EventExecutionRequested }

func (p ExecutionRequested) Encode() IRObject {
	return IRObject{
		"entryId":     IRString(p.EntryID),
		"cellId":      IRString(p.CellID),
		"requestedBy": IRString(p.RequestedBy),
	}
}

func decodeExecutionRequested(obj IRObject) (Payload, error) {
	var p ExecutionRequested
	var err error
	if p.EntryID, err = requireID(obj, "entryId"); err != nil {
		return nil, err
	}
	if p.CellID, err = requireID(obj, "cellId"); err != nil {
		return nil, err
	}
	if p.RequestedBy, err = obj.StringOr("requestedBy", ""); err != nil {
		return nil, err
	}
	return p, nil
}

// ExecutionAssigned claims a pending entry for a session.
type ExecutionAssigned struct {
	EntryID   string
	SessionID string
}

func (ExecutionAssigned) EventName() EventName { return EventExecutionAssigned }

func (p ExecutionAssigned) Encode() IRObject {
	return IRObject{"entryId": IRString(p.EntryID), "sessionId": IRString(p.SessionID)}
}

// ExecutionStarted marks an assigned entry as executing.
type ExecutionStarted struct {
	EntryID   string
	SessionID string
}

func (ExecutionStarted) EventName() EventName { return EventExecutionStarted }

func (p ExecutionStarted) Encode() IRObject {
	return IRObject{"entryId": IRString(p.EntryID), "sessionId": IRString(p.SessionID)}
}

// ExecutionCompleted settles an executing entry with its outputs.
type ExecutionCompleted struct {
	EntryID   string
	SessionID string
	Outputs   []Output
}

func (ExecutionCompleted) EventName() EventName { return EventExecutionCompleted }

func (p ExecutionCompleted) Encode() IRObject {
	return IRObject{
		"entryId":   IRString(p.EntryID),
		"sessionId": IRString(p.SessionID),
		"outputs":   EncodeOutputs(p.Outputs),
	}
}

func decodeExecutionCompleted(obj IRObject) (Payload, error) {
	entryID, sessionID, err := entryAndSession(obj)
	if err != nil {
		return nil, err
	}
	arr, err := obj.Array("outputs")
	if err != nil {
		return nil, err
	}
	outputs, err := DecodeOutputs(arr)
	if err != nil {
		return nil, err
	}
	return ExecutionCompleted{EntryID: entryID, SessionID: sessionID, Outputs: outputs}, nil
}

// ExecutionFailed settles an executing entry with an error.
type ExecutionFailed struct {
	EntryID   string
	SessionID string
	Error     ErrorInfo
}

func (ExecutionFailed) EventName() EventName { return EventExecutionFailed }

func (p ExecutionFailed) Encode() IRObject {
	return IRObject{
		"entryId":   IRString(p.EntryID),
		"sessionId": IRString(p.SessionID),
		"error":     p.Error.Encode(),
	}
}

func decodeExecutionFailed(obj IRObject) (Payload, error) {
	entryID, sessionID, err := entryAndSession(obj)
	if err != nil {
		return nil, err
	}
	errObj, err := obj.Object("error")
	if err != nil {
		return nil, err
	}
	info, err := DecodeErrorInfo(errObj)
	if err != nil {
		return nil, err
	}
	return ExecutionFailed{EntryID: entryID, SessionID: sessionID, Error: info}, nil
}

// KernelSessionStarted registers a new kernel process. At is unix milliseconds.
type KernelSessionStarted struct {
	SessionID  string
	KernelType string
	At         int64
}

func (KernelSessionStarted) EventName() EventName { return EventKernelSessionStarted }

func (p KernelSessionStarted) Encode() IRObject {
	return IRObject{
		"sessionId":  IRString(p.SessionID),
		"kernelType": IRString(p.KernelType),
		"at":         IRInt(p.At),
	}
}

func decodeKernelSessionStarted(obj IRObject) (Payload, error) {
	var p KernelSessionStarted
	var err error
	if p.SessionID, err = requireID(obj, "sessionId"); err != nil {
		return nil, err
	}
	if p.KernelType, err = obj.StringOr("kernelType", ""); err != nil {
		return nil, err
	}
	if p.At, err = obj.Int("at"); err != nil {
		return nil, err
	}
	return p, nil
}

// KernelSessionHeartbeat reports liveness and status. At is unix milliseconds.
type KernelSessionHeartbeat struct {
	SessionID string
	Status    string
	At        int64
}

func (KernelSessionHeartbeat) EventName() EventName { return EventKernelSessionHeartbeat }

func (p KernelSessionHeartbeat) Encode() IRObject {
	return IRObject{
		"sessionId": IRString(p.SessionID),
		"status":    IRString(p.Status),
		"at":        IRInt(p.At),
	}
}

func decodeKernelSessionHeartbeat(obj IRObject) (Payload, error) {
	var p KernelSessionHeartbeat
	var err error
	if p.SessionID, err = requireID(obj, "sessionId"); err != nil {
		return nil, err
	}
	if p.Status, err = obj.String("status"); err != nil {
		return nil, err
	}
	if p.At, err = obj.Int("at"); err != nil {
		return nil, err
	}
	return p, nil
}
