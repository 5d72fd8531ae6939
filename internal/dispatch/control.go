// ABOUTME: Handlers for the reserved control calls.
// ABOUTME: Data-file operations are wrapped with fixed IO failure messages.

package dispatch

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/gate"
	"github.com/fxamacker/cbor/v2"
)

func (d *Dispatcher) handleLocalIP(context.Context, calls.Invocation) (calls.Reply, error) {
	ip, ok := d.localIP()
	if !ok {
		return calls.Reply{}, nil
	}
	return calls.Reply{Value: ip}, nil
}

func (d *Dispatcher) handleDatabasePath(context.Context, calls.Invocation) (calls.Reply, error) {
	svc := d.gate.Service()
	if svc == nil || svc.DatabasePath() == "" {
		return calls.Reply{}, nil
	}
	return calls.Reply{Value: svc.DatabasePath()}, nil
}

func (d *Dispatcher) handleInitialized(ctx context.Context, _ calls.Invocation) (calls.Reply, error) {
	port, err := d.gate.WaitInitialized(ctx)
	if errors.Is(err, gate.ErrInitTimeout) {
		d.logger.Warn("service did not initialize in time")
		return calls.Reply{}, calls.ErrServiceUnavailable
	}
	if err != nil {
		return calls.Reply{}, err
	}
	return calls.Reply{Value: port}, nil
}

func (d *Dispatcher) handleSyncData(ctx context.Context, inv calls.Invocation) (calls.Reply, error) {
	svc, err := d.gateService()
	if err != nil {
		return calls.Reply{}, err
	}
	src := string(inv.Payload)
	if err := svc.SyncData(ctx, src); err != nil {
		d.logger.Error("sync failed", "src", src, "error", err)
		return calls.Reply{}, &calls.IOError{Op: calls.MsgSyncFailed, Err: err}
	}
	return calls.Reply{}, nil
}

func (d *Dispatcher) handleRollbackData(ctx context.Context, _ calls.Invocation) (calls.Reply, error) {
	svc, err := d.gateService()
	if err != nil {
		return calls.Reply{}, err
	}
	if err := svc.RollbackData(ctx); err != nil {
		d.logger.Error("rollback failed", "error", err)
		return calls.Reply{}, &calls.IOError{Op: calls.MsgRollbackFailed, Err: err}
	}
	return calls.Reply{}, nil
}

func (d *Dispatcher) handleResetData(ctx context.Context, _ calls.Invocation) (calls.Reply, error) {
	svc, err := d.gateService()
	if err != nil {
		return calls.Reply{}, err
	}
	if err := svc.ResetData(ctx); err != nil {
		d.logger.Error("reset failed", "error", err)
		return calls.Reply{}, &calls.IOError{Op: calls.MsgResetFailed, Err: err}
	}
	return calls.Reply{}, nil
}

// handleLog forwards a log record to the service. It never replies.
func (d *Dispatcher) handleLog(ctx context.Context, inv calls.Invocation) (calls.Reply, error) {
	var rec calls.LogRecord
	if err := cbor.Unmarshal(inv.Payload, &rec); err != nil {
		d.logger.Warn("dropping malformed log record", "error", err)
		return calls.Reply{Silent: true}, nil
	}

	svc := d.gate.Service()
	if svc == nil {
		d.logger.Log(ctx, calls.SlogLevel(rec.Level), rec.Message, "source", "caller")
		return calls.Reply{Silent: true}, nil
	}
	svc.Log(rec.Level, rec.Message)
	return calls.Reply{Silent: true}, nil
}

// LocalIPv4 returns the first non-loopback IPv4 address of an interface that is up.
func LocalIPv4() (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip, ok := firstIPv4(addrs); ok {
			return ip, true
		}
	}
	return "", false
}

func firstIPv4(addrs []net.Addr) (string, bool) {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		s := ip.String()
		if ip.To4() == nil || strings.Contains(s, ":") {
			continue
		}
		return s, true
	}
	return "", false
}
