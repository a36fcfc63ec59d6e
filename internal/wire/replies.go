package wire

// StaticReplies are the literal strings this protocol's error and success
// payloads use. Keep these verbatim; other implementations of this
// protocol depend on their exact spelling.
const (
	ReplyOK                   = "OK"
	ReplyObjectNotFound        = "Object not found"
	ReplyClientConnectionError = "client connection error"
	ReplyServerConnectionError = "server connection error"
	ReplySerdeParsingError     = "serde parsing error"
	ReplyRemoteConnectionError = "remote connection error"
	ReplyInvalidResponseData   = "invalid response data"
)
