// Package kerrors defines the error taxonomy shared by every kernel
// subsystem. Errors are built on grpc's codes/status pair so that callers
// across package boundaries can compare by code rather than by string,
// the same convention the container-state layer this module was grown
// from used for its own id-collision and not-found errors.
package kerrors

import (
	"errors"

	grpcCodes "google.golang.org/grpc/codes"
	grpcStatus "google.golang.org/grpc/status"
)

// Code is the abstract error taxonomy from the kernel spec (§7). Each
// value maps onto a grpc code so it can travel through status.Status.
type Code int

const (
	Success Code = iota
	InvalidParam
	NoMemory
	Busy
	Timeout
	NotSupported
	IO
	Permission
	NotFound
	Fatal
)

var toGRPC = map[Code]grpcCodes.Code{
	InvalidParam: grpcCodes.InvalidArgument,
	NoMemory:     grpcCodes.ResourceExhausted,
	Busy:         grpcCodes.Unavailable,
	Timeout:      grpcCodes.DeadlineExceeded,
	NotSupported: grpcCodes.Unimplemented,
	IO:           grpcCodes.Internal,
	Permission:   grpcCodes.PermissionDenied,
	NotFound:     grpcCodes.NotFound,
	Fatal:        grpcCodes.Unknown,
}

var fromGRPC = func() map[grpcCodes.Code]Code {
	m := make(map[grpcCodes.Code]Code, len(toGRPC))
	for k, v := range toGRPC {
		m[v] = k
	}
	return m
}()

// New builds an error carrying the given taxonomy code and message.
func New(c Code, format string, args ...interface{}) error {
	gc, ok := toGRPC[c]
	if !ok {
		gc = grpcCodes.Unknown
	}
	return grpcStatus.Errorf(gc, format, args...)
}

// CodeOf extracts the taxonomy code from an error produced by New, or
// Success if err is nil. Errors not produced by this package map to
// Fatal, since they represent an unclassified failure.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	st, ok := grpcStatus.FromError(err)
	if !ok {
		return Fatal
	}
	if c, ok := fromGRPC[st.Code()]; ok {
		return c
	}
	return Fatal
}

// Is reports whether err was produced with code c.
func Is(err error, c Code) bool {
	return CodeOf(err) == c
}

func InvalidParamf(format string, args ...interface{}) error { return New(InvalidParam, format, args...) }
func NoMemoryf(format string, args ...interface{}) error     { return New(NoMemory, format, args...) }
func Busyf(format string, args ...interface{}) error         { return New(Busy, format, args...) }
func Timeoutf(format string, args ...interface{}) error      { return New(Timeout, format, args...) }
func NotSupportedf(format string, args ...interface{}) error { return New(NotSupported, format, args...) }
func IOf(format string, args ...interface{}) error           { return New(IO, format, args...) }
func Permissionf(format string, args ...interface{}) error   { return New(Permission, format, args...) }
func NotFoundf(format string, args ...interface{}) error     { return New(NotFound, format, args...) }
func Fatalf(format string, args ...interface{}) error        { return New(Fatal, format, args...) }

// ErrClosed is the sentinel for a device that has been unregistered
// from under an in-flight caller. None of the device pipelines in this
// module returns it.
var ErrClosed = errors.New("kos: device closed")
