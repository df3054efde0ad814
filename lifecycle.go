package mqttstream

// lifecycle translates client events into notifications. Every callback
// posts to the stage mailbox and returns; the notification is emitted by
// the stage goroutine.
type lifecycle struct {
	box    *mailbox
	emit   func(Notification)
	logger Logger
	stage  string
}

func (l *lifecycle) OnConnected(result ConnectResult) {
	l.post(Connected{Result: result}, func() {
		l.logger.Info("Connected to broker", "stage", l.stage, "session_present", result.SessionPresent)
	})
}

func (l *lifecycle) OnDisconnected(result ConnectResult, err error, wasConnected bool, reason DisconnectReason) {
	l.post(Disconnected{
		Result:       result,
		Err:          err,
		WasConnected: wasConnected,
		Reason:       reason,
	}, func() {
		l.logger.Info("Disconnected from broker", "stage", l.stage, "reason", reason, "error", err)
	})
}

func (l *lifecycle) OnConnectingFailed(result ConnectResult, err error) {
	l.post(ConnectionFailed{Result: result, Err: err}, func() {
		l.logger.Warn("Connecting to broker failed", "stage", l.stage, "code", result.Code, "error", err)
	})
}

func (l *lifecycle) OnMessage(msg Message) {
	l.post(Received{Message: msg}, nil)
}

func (l *lifecycle) post(n Notification, log func()) {
	l.box.post(func() {
		if log != nil {
			log()
		}
		l.emit(n)
	})
}
