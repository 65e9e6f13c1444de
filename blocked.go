package amqpio

// BlockedNotification is a broker-initiated signal that publishers should
// pause (Blocked true) or may resume (Blocked false) due to resource
// pressure on the server.
type BlockedNotification struct {
	Blocked bool
	Reason  string
}
