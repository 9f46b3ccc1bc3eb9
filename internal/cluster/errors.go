package cluster

import "errors"

var (
	// ErrTooFewProcesses is returned when a cluster run is requested with
	// fewer than 2 cooperating processes.
	ErrTooFewProcesses = errors.New("cluster mode requires at least 2 processes")

	// ErrCoordinatorNotLowestRank is returned when the coordinator role is
	// requested on any rank other than 0.
	ErrCoordinatorNotLowestRank = errors.New("coordinator role must run on rank 0")

	// ErrWorkerOnCoordinatorRank is returned when a worker role is requested
	// on the reserved coordinator rank.
	ErrWorkerOnCoordinatorRank = errors.New("worker role cannot run on rank 0")

	// ErrProtocolViolation is returned when a worker sends a request after
	// it has been told to stop.
	ErrProtocolViolation = errors.New("protocol violation: request from stopped worker")

	// ErrUnexpectedResponse is returned when a response does not match the
	// expected variant.
	ErrUnexpectedResponse = errors.New("unexpected response variant")

	// ErrTransportClosed is returned when sending on a released transport.
	ErrTransportClosed = errors.New("transport closed")
)
