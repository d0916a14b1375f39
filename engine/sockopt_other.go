//go:build !unix

package engine

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error { return nil }
