// Package wire defines the versioned message schema exchanged between
// clients, nodes and the collector, and the websocket transport carrying it.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loadbench/loadbench/bench"
)

// Version is the envelope schema version written by Encode and required by Decode.
const Version = 1

var (
	// ErrMalformedMessage is returned when a message cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnsupportedVersion is returned for envelopes of another schema version.
	ErrUnsupportedVersion = errors.New("unsupported message version")
)

// Kind tags the payload of an envelope.
type Kind string

const (
	KindRequest Kind = "request" // client -> node, and the reply node -> client
	KindStart   Kind = "start"   // client session start, client -> collector
	KindTrace   Kind = "trace"   // one completed request, client -> collector
	KindFinish  Kind = "finish"  // client session end, client -> collector
	KindStatus  Kind = "status"  // status batch, node -> collector
	KindAck     Kind = "ack"     // collector acknowledgement
)

// Envelope is one message on any connection.
type Envelope struct {
	Version  int                `json:"v"`
	Kind     Kind               `json:"kind"`
	ClientID string             `json:"client_id,omitempty"`
	Request  *bench.Request     `json:"request,omitempty"`
	Requests []bench.Request    `json:"requests,omitempty"` // optional trailing trace on finish
	Report   *bench.ReportBatch `json:"report,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// Encode serializes env, stamping the current schema version.
func Encode(env Envelope) ([]byte, error) {
	env.Version = Version
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Kind, err)
	}
	return data, nil
}

// Decode parses one envelope and checks the payload its kind requires.
// Kinds outside the known set decode successfully; each endpoint decides
// which kinds it accepts.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Version != Version {
		return Envelope{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, env.Version, Version)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	switch env.Kind {
	case KindRequest, KindTrace:
		if env.Request == nil {
			return Envelope{}, fmt.Errorf("%w: %s without request", ErrMalformedMessage, env.Kind)
		}
	case KindStatus:
		if env.Report == nil || env.Report.NodeID == "" {
			return Envelope{}, fmt.Errorf("%w: status without report", ErrMalformedMessage)
		}
	}
	switch env.Kind {
	case KindStart, KindTrace, KindFinish:
		if env.ClientID == "" {
			return Envelope{}, fmt.Errorf("%w: %s without client_id", ErrMalformedMessage, env.Kind)
		}
	}
	return env, nil
}

// Ack builds an acknowledgement envelope.
func Ack(format string, args ...any) Envelope {
	return Envelope{Kind: KindAck, Message: fmt.Sprintf(format, args...)}
}
