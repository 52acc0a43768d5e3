package core

// ServerState is the worker state of a command server.
type ServerState uint32

const (
	// StateReception waits for the next command frame
	StateReception ServerState = iota
	// StateExecution runs the handler of the received frame
	StateExecution
	// StateTerminate is absorbing: the worker aborts the transport and exits
	StateTerminate ServerState = 255
)

func (s ServerState) String() string {
	switch s {
	case StateReception:
		return "reception"
	case StateExecution:
		return "execution"
	case StateTerminate:
		return "terminate"
	}
	return "unknown"
}
