package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

// callTimeout bounds one round trip to the daemon.
const callTimeout = 30 * time.Second

// rpcCall connects to the daemon via Unix socket, executes an RPC call and
// decodes the result into result when it is non-nil. Daemon-side failures
// are returned as *types.RPCError.
func rpcCall(method string, params, result interface{}) error {
	socket := socketPath
	if socket == "" {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		socket = cfg.SocketPath
	}
	return dial(socket, method, params, result)
}

func dial(socket, method string, params, result interface{}) error {
	conn, err := net.DialTimeout("unix", socket, 5*time.Second)
	if err != nil {
		return fmt.Errorf("%w at %s: %v", types.ErrConnectionFailed, socket, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(callTimeout))

	// Create JSON-RPC request
	req := types.RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	// Send request
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("%w: failed to send request: %v", types.ErrConnectionFailed, err)
	}

	// Read response
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *types.RPCError `json:"error"`
	}
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return fmt.Errorf("%w: failed to read response: %v", types.ErrConnectionFailed, err)
	}

	// Check for RPC error
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}

// reportedError marks an error whose response was already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// fail prints err as the command's response and returns it for the exit
// code. Connection failures are explained with how to start the daemon.
func fail(err error, actions ...output.Action) error {
	if types.IsDaemonError(err) {
		userErr := types.NewUserError(
			"Failed to connect to daemon",
			"The daemon doesn't appear to be running. Secrets are only reachable through it.",
			"To start it:\n  secrets serve --background",
			"secrets serve --help",
		).WithContext("Detail", err.Error())
		output.Print(output.Error(userErr, output.ActionsWhenDaemonDown()...))
		return &reportedError{err: err}
	}
	output.Print(output.Error(err, actions...))
	return &reportedError{err: err}
}
