package errors

import "fmt"

type MalformedMessage struct {
	MessageName string
	Line        string
	Reason      string
}

func (e *MalformedMessage) Error() string {
	return fmt.Sprintf("Malformed %s message %q: %s", e.MessageName, e.Line, e.Reason)
}

type LineTooLong struct {
	Size    int
	MaxSize int
}

func (e *LineTooLong) Error() string {
	return fmt.Sprintf("Line too long: read %d bytes, limit is %d", e.Size, e.MaxSize)
}

type DuplicateRequestNum struct {
	RequestNum uint64
}

func (e *DuplicateRequestNum) Error() string {
	return fmt.Sprintf("Request number %d is already pending", e.RequestNum)
}

type DuplicateClientId struct {
	Id uint64
}

func (e *DuplicateClientId) Error() string {
	return fmt.Sprintf("Attempted to register connection with duplicate ID %d", e.Id)
}

type MissingClientId struct {
	Id uint64
}

func (e *MissingClientId) Error() string {
	return fmt.Sprintf("Missing connection with id=%d", e.Id)
}

type TooManyClients struct {
	MaxConnections int
}

func (e *TooManyClients) Error() string {
	return fmt.Sprintf("Too many clients are connected (limit %d) - cannot register new connection", e.MaxConnections)
}

type OutgoingQueueFull struct {
	Id          uint64
	QueueLength int
}

func (e *OutgoingQueueFull) Error() string {
	return fmt.Sprintf("Connection id=%d is %d lines behind - cannot queue more", e.Id, e.QueueLength)
}

type UnknownTransport struct {
	Kind string
}

func (e *UnknownTransport) Error() string {
	return fmt.Sprintf("Unknown transport kind '%s'", e.Kind)
}

type ConnectFailed struct {
	Address string
	Err     error
}

func (e *ConnectFailed) Error() string {
	return fmt.Sprintf("Could not connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectFailed) Unwrap() error {
	return e.Err
}
