// Package message implements the line-oriented wire format of the ping protocol.
//
//	client -> server  "[<req_num>] PING"
//	server -> client  "[<resp_num>/<req_num>] PONG (<client_id>)"
//	server -> client  "[<resp_num>] keepalive"
//
// Every message is a single UTF-8 line. Terminators are added and stripped by the transport.
package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sessamekesh/pingpong-netcode/pkg/errors"
)

const (
	PingKeyword      = "PING"
	PongKeyword      = "PONG"
	KeepaliveKeyword = "keepalive"
)

type MessageType uint8

const (
	MessageType_Ping MessageType = iota
	MessageType_Pong
	MessageType_Keepalive

	MessageType_NONE
)

func (t MessageType) String() string {
	switch t {
	case MessageType_Ping:
		return "ping"
	case MessageType_Pong:
		return "pong"
	case MessageType_Keepalive:
		return "keepalive"
	}
	return "none"
}

type Ping struct {
	RequestNum uint64
}

func (m Ping) String() string {
	return fmt.Sprintf("[%d] %s", m.RequestNum, PingKeyword)
}

type Pong struct {
	ResponseNum uint64
	RequestNum  uint64
	ClientId    uint64
}

func (m Pong) String() string {
	return fmt.Sprintf("[%d/%d] %s (%d)", m.ResponseNum, m.RequestNum, PongKeyword, m.ClientId)
}

type Keepalive struct {
	ResponseNum uint64
}

func (m Keepalive) String() string {
	return fmt.Sprintf("[%d] %s", m.ResponseNum, KeepaliveKeyword)
}

// Classify looks only at the keywords, the same way a receiver decides how to treat a line
// before parsing any numbers out of it. Keepalive wins over PONG.
func Classify(line string) MessageType {
	switch {
	case strings.Contains(line, KeepaliveKeyword):
		return MessageType_Keepalive
	case strings.Contains(line, PongKeyword):
		return MessageType_Pong
	case strings.Contains(line, PingKeyword):
		return MessageType_Ping
	}
	return MessageType_NONE
}

func parseNumber(messageName, line, field string) (uint64, error) {
	if field == "" {
		return 0, &errors.MalformedMessage{
			MessageName: messageName,
			Line:        line,
			Reason:      "empty number",
		}
	}
	n, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, &errors.MalformedMessage{
			MessageName: messageName,
			Line:        line,
			Reason:      err.Error(),
		}
	}
	return n, nil
}

// splitHeader splits "[<header>] <body>" into header and body.
func splitHeader(messageName, line string) (string, string, error) {
	rest, ok := strings.CutPrefix(line, "[")
	if !ok {
		return "", "", &errors.MalformedMessage{
			MessageName: messageName,
			Line:        line,
			Reason:      "missing '['",
		}
	}
	header, body, ok := strings.Cut(rest, "]")
	if !ok {
		return "", "", &errors.MalformedMessage{
			MessageName: messageName,
			Line:        line,
			Reason:      "missing ']'",
		}
	}
	return header, strings.TrimSpace(body), nil
}

func ParsePing(line string) (*Ping, error) {
	header, body, err := splitHeader("Ping", line)
	if err != nil {
		return nil, err
	}
	if body != PingKeyword {
		return nil, &errors.MalformedMessage{
			MessageName: "Ping",
			Line:        line,
			Reason:      fmt.Sprintf("expected keyword %s", PingKeyword),
		}
	}
	requestNum, err := parseNumber("Ping", line, header)
	if err != nil {
		return nil, err
	}
	return &Ping{RequestNum: requestNum}, nil
}

// ParsePongRequestNum extracts only the echoed request number, the text between the first '/'
// and the following ']'. This is all a client needs for correlation.
func ParsePongRequestNum(line string) (uint64, error) {
	_, rest, ok := strings.Cut(line, "/")
	if !ok {
		return 0, &errors.MalformedMessage{
			MessageName: "Pong",
			Line:        line,
			Reason:      "missing '/'",
		}
	}
	field, _, ok := strings.Cut(rest, "]")
	if !ok {
		return 0, &errors.MalformedMessage{
			MessageName: "Pong",
			Line:        line,
			Reason:      "missing ']'",
		}
	}
	return parseNumber("Pong", line, field)
}

func ParsePong(line string) (*Pong, error) {
	header, body, err := splitHeader("Pong", line)
	if err != nil {
		return nil, err
	}

	respField, reqField, ok := strings.Cut(header, "/")
	if !ok {
		return nil, &errors.MalformedMessage{
			MessageName: "Pong",
			Line:        line,
			Reason:      "missing '/'",
		}
	}

	keyword, clientField, ok := strings.Cut(body, " ")
	if !ok || keyword != PongKeyword {
		return nil, &errors.MalformedMessage{
			MessageName: "Pong",
			Line:        line,
			Reason:      fmt.Sprintf("expected keyword %s", PongKeyword),
		}
	}
	clientField, ok = strings.CutPrefix(clientField, "(")
	if ok {
		clientField, ok = strings.CutSuffix(clientField, ")")
	}
	if !ok {
		return nil, &errors.MalformedMessage{
			MessageName: "Pong",
			Line:        line,
			Reason:      "client id must be parenthesized",
		}
	}

	responseNum, err := parseNumber("Pong", line, respField)
	if err != nil {
		return nil, err
	}
	requestNum, err := parseNumber("Pong", line, reqField)
	if err != nil {
		return nil, err
	}
	clientId, err := parseNumber("Pong", line, clientField)
	if err != nil {
		return nil, err
	}

	return &Pong{
		ResponseNum: responseNum,
		RequestNum:  requestNum,
		ClientId:    clientId,
	}, nil
}

func ParseKeepalive(line string) (*Keepalive, error) {
	header, body, err := splitHeader("Keepalive", line)
	if err != nil {
		return nil, err
	}
	if body != KeepaliveKeyword {
		return nil, &errors.MalformedMessage{
			MessageName: "Keepalive",
			Line:        line,
			Reason:      fmt.Sprintf("expected keyword %s", KeepaliveKeyword),
		}
	}
	responseNum, err := parseNumber("Keepalive", line, header)
	if err != nil {
		return nil, err
	}
	return &Keepalive{ResponseNum: responseNum}, nil
}
