package bridge

// NewReadyRequest asks whether a bridge is listening.
func NewReadyRequest() Message {
	return Message{Source: SourceInpage, Type: TypeReadyRequest}
}

// NewReady announces bridge availability.
func NewReady() Message {
	return Message{Source: SourceContent, Type: TypeReady}
}

// NewRequest wraps one outstanding call.
func NewRequest(id string, payload RequestPayload) Message {
	return Message{ID: id, Source: SourceInpage, Type: TypeRequest, Payload: payload}
}

// NewResult answers id successfully.
func NewResult(id string, result any) Message {
	return Message{ID: id, Source: SourceContent, Type: TypeResponse, Result: result}
}

// NewErrorResponse answers id with a failure.
func NewErrorResponse(id string, err *RPCError) Message {
	return Message{ID: id, Source: SourceContent, Type: TypeResponse, Error: err}
}

// NewEvent forwards a provider event.
func NewEvent(name string, payload any) Message {
	return Message{Source: SourceContent, Type: TypeEvent, Event: name, Payload: payload}
}

// NewTriggerReload tells the page its environment changed.
func NewTriggerReload() Message {
	return Message{Event: EventTriggerReload}
}

func IsRequest(m Message) bool {
	return m.Type == TypeRequest && m.Source == SourceInpage
}

func IsResponse(m Message) bool {
	return m.Type == TypeResponse && m.Source == SourceContent
}

func IsEvent(m Message) bool {
	return m.Type == TypeEvent && m.Source == SourceContent
}

func IsReady(m Message) bool {
	return m.Type == TypeReady && m.Source == SourceContent
}

func IsReadyRequest(m Message) bool {
	return m.Type == TypeReadyRequest && m.Source == SourceInpage
}

// IsTriggerReload matches the untagged reload notification.
func IsTriggerReload(m Message) bool {
	return m.Source == "" && m.Type == "" && m.Event == EventTriggerReload
}
