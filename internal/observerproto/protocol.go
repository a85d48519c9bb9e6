package observerproto

import "encoding/json"

// Version is the observer protocol version.
const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
	TypeDelta     = "DELTA"
	TypeError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the observer WS connection. Sending it
// again restarts the stream at the new generation.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FromGeneration  uint64 `json:"from_generation"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion   string `json:"protocol_version"`
	Rule              string `json:"rule"`
	Topology          string `json:"topology"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	ChunkExp          uint   `json:"chunk_exp,omitempty"`
	HighestGeneration uint64 `json:"highest_generation"`
}

// HTTP response for POST /v1/run.
type RunResponse struct {
	HighestGeneration uint64 `json:"highest_generation"`
}

type Cell struct {
	X    int64  `json:"x"`
	Y    int64  `json:"y"`
	Code uint32 `json:"code"`
}

// Server -> Client. A full generation; also the body of GET /v1/frame.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Generation      uint64 `json:"generation"`
	Rule            string `json:"rule"`
	Topology        string `json:"topology"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	ChunkExp        uint   `json:"chunk_exp,omitempty"`
	Digest          string `json:"digest"`
	Cells           []Cell `json:"cells"`
}

// Server -> Client. Cells that changed between two generations. A cell with
// code 0 went quiescent.
type DeltaMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	From            uint64 `json:"from"`
	To              uint64 `json:"to"`
	Changes         []Cell `json:"changes"`
}

// Server -> Client. Sent before the server closes a stream it cannot serve.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
